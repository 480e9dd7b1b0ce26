package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignite/mailengine/internal/config"
	"github.com/ignite/mailengine/internal/pkg/logger"
)

var (
	cfgFile  string
	logLevel string
	orgID    string

	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mailengine",
	Short: "Outbound email delivery engine",
	Long: `mailengine delivers email through one configured provider at a time:
pooled SMTP, a sandbox SMTP server, Microsoft Graph, Resend, Brevo or SES.

Example:
  mailengine serve                                  # HTTP API plus bulk workers
  mailengine send --to a@example.com --subject Hi   # one message
  mailengine bulk-test --to qa@example.com -n 100   # paced test run`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config/config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organisation whose email settings are used")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(bulkTestCmd)
	rootCmd.AddCommand(queueCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadFromEnv(cfgFile)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgFile, err)
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if orgID != "" {
		loaded.Settings.OrgID = orgID
	}
	logger.SetLevel(logger.ParseLevel(loaded.Log.Level))
	logger.SetRedactPII(loaded.Log.RedactPII)
	cfg = loaded
	return nil
}

func printErr(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
