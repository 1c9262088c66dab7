// Package postgres provides PostgreSQL implementations of the workflow store
// and the artifact cache, plus the embedded goose migrations that create
// their tables.
//
// Connections are opened through the pgx database/sql driver. Driver errors
// are translated into the store package's sentinels by MapError so callers
// never need to inspect PostgreSQL error codes.
package postgres
