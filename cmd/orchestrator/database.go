package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/maintenance-orchestrator/internal/config"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/postgres"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/sqlite"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
)

// database is an open connection with the workflow store and schema for its driver.
type database struct {
	db         *sql.DB
	workflows  store.WorkflowStore
	migrations store.Migrations
	driver     string
}

// openDatabase connects to the configured workflow store backend.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*database, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.URL, cfg.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		return &database{
			db:         db,
			workflows:  postgres.NewPostgresWorkflowStore(db, logger),
			migrations: postgres.Migrations,
			driver:     cfg.Driver,
		}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return &database{
			db:         db,
			workflows:  sqlite.NewSQLiteWorkflowStore(db, logger),
			migrations: sqlite.Migrations,
			driver:     cfg.Driver,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// migrate runs a goose command against the database's embedded schema.
func (d *database) migrate(ctx context.Context, command string, logger *slog.Logger) error {
	return store.Migrate(ctx, d.db, d.migrations, command, logger)
}
