package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/db"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List outbox events not yet confirmed by the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		pool, store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		now := time.Now().UTC()
		evts, err := outbox.NewPostgresRepository(store, service).Pending(cmd.Context(), now.Add(-olderThan), limit)
		if err != nil {
			return fmt.Errorf("list pending events: %w", err)
		}
		rows := pendingRows(evts, now)
		if jsonOutput {
			return printJSON(os.Stdout, rows)
		}
		printPendingTable(os.Stdout, rows)
		return nil
	},
}

func init() {
	pendingCmd.Flags().Int("limit", 100, "maximum rows to list")
	pendingCmd.Flags().Duration("older-than", 0, "only list events at least this old")
}

// openStore connects to the database of the selected service.
func openStore(ctx context.Context) (*db.Pool, *db.DB, error) {
	cfg, err := profile.Config(service)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("%s: no database_url in profile and DATABASE_URL is unset", service)
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pool, db.New(pool), nil
}
