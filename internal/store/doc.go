// Package store defines the persistence contracts for workflow executions
// and their transition audit trail, the sentinel errors every backend
// returns, and the shared migration and transaction helpers.
package store
