package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ignite/mailengine/internal/domain"
)

var sendFlags struct {
	to       []string
	subject  string
	html     string
	htmlFile string
	text     string
	replyTo  string
	attach   []string
	headers  map[string]string
	testMail bool
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message with the configured provider",
	Long: `Send resolves the active provider from the stored settings and the
environment, sends one message and prints the result as JSON.

Attachments are local paths (under storage.allowed_root when set) or
s3://bucket/key URIs.`,
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringSliceVar(&sendFlags.to, "to", nil, "recipient address (repeatable)")
	f.StringVar(&sendFlags.subject, "subject", "", "subject line")
	f.StringVar(&sendFlags.html, "html", "", "HTML body")
	f.StringVar(&sendFlags.htmlFile, "html-file", "", "read the HTML body from a file")
	f.StringVar(&sendFlags.text, "text", "", "plain-text body (derived from HTML when empty)")
	f.StringVar(&sendFlags.replyTo, "reply-to", "", "Reply-To address")
	f.StringSliceVar(&sendFlags.attach, "attach", nil, "attachment path or s3:// URI (repeatable)")
	f.StringToStringVar(&sendFlags.headers, "header", nil, "extra header as Name=value (repeatable)")
	f.BoolVar(&sendFlags.testMail, "test-email", false, "mark as a test email instead of applying test mode")
	_ = sendCmd.MarkFlagRequired("to")
	_ = sendCmd.MarkFlagRequired("subject")
}

func buildMessage() (domain.EmailMessage, error) {
	msg := domain.EmailMessage{
		To:          domain.Recipients(sendFlags.to),
		Subject:     sendFlags.subject,
		HTML:        sendFlags.html,
		Text:        sendFlags.text,
		ReplyTo:     sendFlags.replyTo,
		Headers:     sendFlags.headers,
		IsTestEmail: sendFlags.testMail,
	}
	if sendFlags.htmlFile != "" {
		data, err := os.ReadFile(sendFlags.htmlFile)
		if err != nil {
			return msg, fmt.Errorf("read html file: %w", err)
		}
		msg.HTML = string(data)
	}
	for _, path := range sendFlags.attach {
		msg.Attachments = append(msg.Attachments, domain.Attachment{Filename: attachmentName(path), Path: path})
	}
	return msg, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	msg, err := buildMessage()
	if err != nil {
		return err
	}

	rt, err := newEngineRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	settings, err := rt.settings.Settings(ctx, cfg.Settings.OrgID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	res, err := rt.engine.Send(ctx, msg, settings)
	if err != nil {
		printErr("send failed: %v", err)
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("send incomplete: %s", res.Error)
	}
	return nil
}
