package worker

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailengine/internal/domain"
)

// FormatFrom renders a From header value: "Name" <address>.
func FormatFrom(name, email string) string {
	if name == "" {
		return email
	}
	return (&mail.Address{Name: name, Address: email}).String()
}

// NewMessageID returns a Message-ID value (without angle brackets) in the
// sender's domain.
func NewMessageID(fromEmail string) string {
	host := "mailengine.local"
	if at := strings.LastIndex(fromEmail, "@"); at >= 0 && at < len(fromEmail)-1 {
		host = fromEmail[at+1:]
	}
	return fmt.Sprintf("%s@%s", uuid.New().String(), host)
}

// MIMEInput is everything needed to render one message.
type MIMEInput struct {
	From        string
	To          []string
	Subject     string
	HTML        string
	Text        string
	ReplyTo     string
	Headers     map[string]string
	MessageID   string
	Date        time.Time
	Attachments []EncodedAttachment
}

// BuildMIME renders a message: multipart/alternative for the text and HTML
// parts, wrapped in multipart/mixed when there are attachments.
func BuildMIME(in MIMEInput) []byte {
	if in.Date.IsZero() {
		in.Date = time.Now()
	}

	var headerBuf bytes.Buffer
	writeHeader(&headerBuf, "From", in.From)
	writeHeader(&headerBuf, "To", strings.Join(in.To, ", "))
	writeHeader(&headerBuf, "Subject", mime.QEncoding.Encode("utf-8", in.Subject))
	writeHeader(&headerBuf, "Date", in.Date.Format(time.RFC1123Z))
	writeHeader(&headerBuf, "Message-ID", "<"+in.MessageID+">")
	writeHeader(&headerBuf, "MIME-Version", "1.0")
	if in.ReplyTo != "" {
		writeHeader(&headerBuf, "Reply-To", in.ReplyTo)
	}
	keys := make([]string, 0, len(in.Headers))
	for k := range in.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&headerBuf, k, in.Headers[k])
	}

	altBoundary := fmt.Sprintf("=_alt_%s", uuid.New().String()[:16])
	var bodyBuf bytes.Buffer

	if len(in.Attachments) == 0 {
		writeHeader(&headerBuf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=\"%s\"", altBoundary))
		headerBuf.WriteString("\r\n")
		writeAlternative(&bodyBuf, altBoundary, in.Text, in.HTML)
		return append(headerBuf.Bytes(), bodyBuf.Bytes()...)
	}

	mixedBoundary := fmt.Sprintf("=_mix_%s", uuid.New().String()[:16])
	writeHeader(&headerBuf, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=\"%s\"", mixedBoundary))
	headerBuf.WriteString("\r\n")

	bodyBuf.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
	bodyBuf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", altBoundary))
	writeAlternative(&bodyBuf, altBoundary, in.Text, in.HTML)

	for _, a := range in.Attachments {
		name := mime.QEncoding.Encode("utf-8", a.Filename)
		bodyBuf.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
		bodyBuf.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", a.ContentType, name))
		bodyBuf.WriteString("Content-Transfer-Encoding: base64\r\n")
		bodyBuf.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n\r\n", name))
		writeWrapped(&bodyBuf, a.Content, 76)
	}
	bodyBuf.WriteString(fmt.Sprintf("--%s--\r\n", mixedBoundary))

	return append(headerBuf.Bytes(), bodyBuf.Bytes()...)
}

// MIMEFromMessage renders an engine message for the given sender.
func MIMEFromMessage(msg *domain.EmailMessage, from, messageID string, atts []EncodedAttachment) []byte {
	return BuildMIME(MIMEInput{
		From:        from,
		To:          msg.To,
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		Text:        msg.Text,
		ReplyTo:     msg.ReplyTo,
		Headers:     msg.Headers,
		MessageID:   messageID,
		Attachments: atts,
	})
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	clean := strings.NewReplacer("\r", "", "\n", "").Replace
	buf.WriteString(clean(key))
	buf.WriteString(": ")
	buf.WriteString(clean(value))
	buf.WriteString("\r\n")
}

func writeAlternative(buf *bytes.Buffer, boundary, text, html string) {
	if text != "" {
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		writeQP(buf, text)
	}
	if html != "" {
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		writeQP(buf, html)
	}
	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
}

func writeQP(buf *bytes.Buffer, s string) {
	w := quotedprintable.NewWriter(buf)
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	buf.WriteString("\r\n")
}

func writeWrapped(buf *bytes.Buffer, s string, width int) {
	for len(s) > width {
		buf.WriteString(s[:width])
		buf.WriteString("\r\n")
		s = s[width:]
	}
	if s != "" {
		buf.WriteString(s)
		buf.WriteString("\r\n")
	}
}
