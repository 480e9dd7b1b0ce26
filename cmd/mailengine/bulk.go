package main

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/worker"
)

var bulkFlags struct {
	to      []string
	count   int
	window  time.Duration
	subject string
	html    string
}

var bulkTestCmd = &cobra.Command{
	Use:   "bulk-test",
	Short: "Enqueue a paced bulk test run",
	Long: `Bulk-test plans count copies of a message spread evenly over the window
and enqueues them in Redis. A running "mailengine serve" with bulk workers
enabled delivers them.`,
	RunE: runBulkTest,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the bulk queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		bulk, err := newBulkRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer bulk.Close()

		stats, err := bulk.queue.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var deadLimit int64

var queueDeadCmd = &cobra.Command{
	Use:   "dead",
	Short: "Print the most recent dead-lettered jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		bulk, err := newBulkRuntime(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer bulk.Close()

		jobs, err := bulk.queue.DeadLetters(cmd.Context(), deadLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, jobs)
	},
}

func init() {
	f := bulkTestCmd.Flags()
	f.StringSliceVar(&bulkFlags.to, "to", nil, "recipient address (defaults to bulk.test_recipient)")
	f.IntVarP(&bulkFlags.count, "count", "n", 10, "number of messages")
	f.DurationVar(&bulkFlags.window, "window", 0, "spread sends over this duration (defaults to bulk.default_window_minutes)")
	f.StringVar(&bulkFlags.subject, "subject", "Bulk test", "subject prefix; each copy gets \" #i/N\"")
	f.StringVar(&bulkFlags.html, "html", "<p>Bulk delivery test</p>", "HTML body")

	queueDeadCmd.Flags().Int64Var(&deadLimit, "limit", 20, "maximum jobs to print")
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueDeadCmd)
}

func runBulkTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	settingsSrc, db, err := openSettingsSource(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}
	settings, err := settingsSrc.Settings(ctx, cfg.Settings.OrgID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	bulk, err := newBulkRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer bulk.Close()

	runID, n, err := bulk.enqueuer.EnqueueBulkTest(ctx, worker.BulkTestRequest{
		To:       domain.Recipients(bulkFlags.to),
		Count:    bulkFlags.count,
		Window:   bulkFlags.window,
		Subject:  bulkFlags.subject,
		HTML:     bulkFlags.html,
		Settings: *settings,
	}, time.Now())
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]interface{}{"runId": runID, "jobs": n})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// attachmentName is the last element of a file path or s3 key.
func attachmentName(p string) string {
	p = strings.TrimPrefix(p, "s3://")
	return path.Base(strings.ReplaceAll(p, "\\", "/"))
}
