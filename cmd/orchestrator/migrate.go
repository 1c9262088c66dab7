package main

import (
	"fmt"

	"github.com/phrazzld/maintenance-orchestrator/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|reset]",
		Short:     "Apply or inspect the workflow store schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{store.MigrateUp, store.MigrateDown, store.MigrateStatus, store.MigrateReset},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := store.MigrateUp
			if len(args) == 1 {
				command = args[0]
			}

			cfg, log, err := c.load()
			if err != nil {
				return err
			}

			db, err := openDatabase(cmd.Context(), cfg.Database, log)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = db.db.Close() }()

			if err := db.migrate(cmd.Context(), command, log); err != nil {
				return fmt.Errorf("migrate %s: %w", command, err)
			}
			log.Info("migration command finished", "command", command, "driver", cfg.Database.Driver)
			return nil
		},
	}
}
