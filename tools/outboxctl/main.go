// Command outboxctl inspects and repairs the outbox tables and dead-letter
// queues of the eventrelay services.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/md-rashed-zaman/eventrelay/libs/runtime"
	"github.com/spf13/cobra"
)

var (
	profilePath string
	service     string
	jsonOutput  bool
	verbose     bool

	profile Profile
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "outboxctl <command>",
	Short:         "Operate the outbox and dead-letter queues of eventrelay services",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		p, err := LoadProfile(profilePath)
		if err != nil {
			return err
		}
		profile = p
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "config", defaultProfilePath(), "TOML profile with broker and database settings")
	rootCmd.PersistentFlags().StringVarP(&service, "service", "s", os.Getenv("SERVICE_NAME"), "service whose database and broker to use")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(migrateCmd, pendingCmd, relayCmd, dlqCmd)
}

func main() {
	ctx, stop := runtime.SignalContext()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
