package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

// MigrationTableName is the goose version table used by every dialect.
const MigrationTableName = "schema_migrations"

// Migration commands accepted by Migrate.
const (
	MigrateUp     = "up"
	MigrateDown   = "down"
	MigrateStatus = "status"
	MigrateReset  = "reset"
)

// goose keeps its dialect, base FS and logger in package globals.
var gooseMu sync.Mutex

// Migrations describes an embedded set of goose SQL migrations for one dialect.
type Migrations struct {
	Dialect string
	FS      fs.FS
	Dir     string
}

// Migrate runs a goose command against db using the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB, m Migrations, command string, logger *slog.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(&slogGooseLogger{logger: logger.With("component", "migrations", "dialect", m.Dialect)})
	goose.SetTableName(MigrationTableName)
	goose.SetBaseFS(m.FS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(m.Dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect %q: %w", m.Dialect, err)
	}

	var err error
	switch command {
	case MigrateUp:
		err = goose.UpContext(ctx, db, m.Dir)
	case MigrateDown:
		err = goose.DownContext(ctx, db, m.Dir)
	case MigrateStatus:
		err = goose.StatusContext(ctx, db, m.Dir)
	case MigrateReset:
		err = goose.ResetContext(ctx, db, m.Dir)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	return nil
}

// slogGooseLogger adapts the goose logger interface to slog
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf forwards to slog.Error without exiting; goose returns the error to the caller.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
