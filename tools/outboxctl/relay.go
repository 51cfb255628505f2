package main

import (
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/broker"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/libs/platform"
	"github.com/spf13/cobra"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish pending outbox events once and mark them processed",
	Long: `Run a single relay pass for the selected service. Events younger than
--min-age are left alone so an in-flight request can still publish them itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		minAge, _ := cmd.Flags().GetDuration("min-age")
		batch, _ := cmd.Flags().GetInt("batch")

		cfg, err := profile.Config(service)
		if err != nil {
			return err
		}
		dialer, err := platform.NewDialer(cfg)
		if err != nil {
			return err
		}
		pool, store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		sender := broker.NewSender(dialer, cfg.Queue, logger)
		defer sender.Close()

		pub := outbox.NewPublisher(store, outbox.NewPostgresRepository(store, cfg.Service), sender, events.Routes, logger)
		n, err := outbox.NewRelay(pub, outbox.RelayConfig{MinAge: minAge, BatchSize: batch}).RunOnce(cmd.Context())
		if jsonOutput {
			out := map[string]any{"service": cfg.Service, "published": n}
			if err != nil {
				out["error"] = err.Error()
			}
			if perr := printJSON(os.Stdout, out); perr != nil {
				return perr
			}
		} else {
			fmt.Printf("%s: %d event(s) published\n", cfg.Service, n)
		}
		return err
	},
}

func init() {
	relayCmd.Flags().Duration("min-age", 30*time.Second, "skip events younger than this")
	relayCmd.Flags().Int("batch", 50, "maximum events per pass")
}
