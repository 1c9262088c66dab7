// Package sqlite provides an embedded SQLite implementation of the workflow
// store, for single-node deployments and tests that need real SQL semantics
// without a PostgreSQL server.
package sqlite
