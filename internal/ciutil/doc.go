// Package ciutil detects continuous-integration environments and resolves
// the database integration tests should run against.
package ciutil
