package ciutil

import (
	"log/slog"
	"os"
)

// Environment variables consulted by this package.
const (
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"
	EnvJenkinsURL    = "JENKINS_URL"
	EnvCircleCI      = "CIRCLECI"

	// EnvTestDatabaseURL is the preferred name for an externally managed test database.
	EnvTestDatabaseURL = "ORCH_TEST_DB_URL"
	// EnvDatabaseURL is the conventional fallback most CI services export.
	EnvDatabaseURL = "DATABASE_URL"
)

// IsCI returns true if the current environment is a CI environment.
func IsCI() bool {
	for _, name := range []string{EnvCI, EnvGitHubActions, EnvGitLabCI, EnvJenkinsURL, EnvCircleCI} {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// GetEnvWithFallbacks returns the value of the first non-empty environment
// variable in envVars, or defaultValue. Using anything but the first name is
// logged as a warning.
func GetEnvWithFallbacks(envVars []string, defaultValue string, logger *slog.Logger) string {
	for i, name := range envVars {
		if val := os.Getenv(name); val != "" {
			if i > 0 && logger != nil {
				logger.Warn("using fallback environment variable",
					"used_var", name,
					"preferred_var", envVars[0])
			}
			return val
		}
	}
	return defaultValue
}
