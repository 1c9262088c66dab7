package ciutil

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/phrazzld/maintenance-orchestrator/internal/redact"
)

// StandardCIOptions are appended to CI database URLs that carry no query.
const StandardCIOptions = "sslmode=disable"

// GetTestDatabaseURL returns the externally provided postgres URL for
// integration tests, or "" when tests should start their own database.
// In CI a URL without options gets sslmode=disable, since service
// containers do not terminate TLS.
func GetTestDatabaseURL(logger *slog.Logger) string {
	dbURL := GetEnvWithFallbacks([]string{EnvTestDatabaseURL, EnvDatabaseURL}, "", logger)
	if dbURL == "" {
		return ""
	}

	if IsCI() {
		normalized, err := normalizeDatabaseURL(dbURL)
		if err != nil {
			if logger != nil {
				logger.Warn("failed to normalize test database URL",
					"error", err,
					"url", redact.String(dbURL))
			}
			return dbURL
		}
		dbURL = normalized
	}

	if logger != nil {
		logger.Info("using external test database", "url", redact.String(dbURL))
	}
	return dbURL
}

func normalizeDatabaseURL(dbURL string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported database URL scheme %q", u.Scheme)
	}
	if u.RawQuery == "" {
		u.RawQuery = StandardCIOptions
	}
	return u.String(), nil
}
