package main

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/eventrelay/libs/db"
	"github.com/md-rashed-zaman/eventrelay/libs/platform"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [service...]",
	Short: "Apply the embedded schema migrations of one or more services",
	Long: `Apply the embedded schema migrations of the named services. With no
arguments the --service flag is used; --all migrates every known service.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		targets := args
		switch {
		case all:
			targets = knownServices()
		case len(targets) == 0 && service != "":
			targets = []string{service}
		case len(targets) == 0:
			return errors.New("name a service, set --service or pass --all")
		}

		for _, name := range targets {
			cfg, err := profile.Config(name)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("%s: no database_url in profile and DATABASE_URL is unset", name)
			}
			table := platform.MigrationsTable(name)
			if err := db.Migrate(cfg.DatabaseURL, schemas[name], ".", table); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			logger.Info("migrations applied", "service", name, "table", table)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("all", false, "migrate every known service")
}
