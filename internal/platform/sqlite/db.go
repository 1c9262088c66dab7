package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations is the embedded SQLite schema.
var Migrations = store.Migrations{
	Dialect: "sqlite3",
	FS:      migrationsFS,
	Dir:     "migrations",
}

// Open opens the SQLite database at path with foreign keys enforced.
// SQLite allows a single writer, so the pool is limited to one connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	return open(ctx, fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path))
}

// OpenInMemory opens a private in-memory database named name. Connections
// opened with the same name share one database until the last is closed.
func OpenInMemory(ctx context.Context, name string) (*sql.DB, error) {
	return open(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

// MapError maps a SQLite error to the matching store error.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey, sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	return err
}
