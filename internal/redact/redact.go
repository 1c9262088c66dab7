// Package redact strips credentials and other sensitive values from error
// text before it is logged. Provider SDK errors routinely echo API keys,
// request URLs and prompt fragments, and store errors echo connection
// strings and SQL.
package redact

import "regexp"

// Placeholders substituted for redacted values.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedBlobPlaceholder       = "[REDACTED_BLOB]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedSQLPlaceholder        = "[REDACTED_SQL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; later rules see the output of earlier ones.
var rules = []rule{
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), RedactedStackPlaceholder},

	// Connection strings carrying user:password@.
	{regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|sqlite3?|redis|https?)://[^@\s/]+@`), RedactedCredentialPlaceholder},

	// LLM provider keys: Google API keys and OpenAI secret keys.
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=\-]+`), "Bearer " + RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|access_token|token)=)[^&\s]+`), "${1}" + RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)(?:api[_-]?key|token|secret|auth)['"\s:=]+[A-Za-z0-9_\-.~+/]{8,}`), RedactedKeyPlaceholder},

	{regexp.MustCompile(`(?i)(?:password|passwd|pwd)[=:\s]?['"]?[^'"&\s]{3,}`), RedactedCredentialPlaceholder},

	// Base64 runs this long are image data or prompt payloads.
	{regexp.MustCompile(`[A-Za-z0-9+/]{120,}={0,2}`), RedactedBlobPlaceholder},

	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), RedactedEmailPlaceholder},

	{
		regexp.MustCompile(
			`(?i)(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP|GRANT)[\s\w,*()]+(?:FROM|INTO|SET|TABLE|DATABASE|SCHEMA|VIEW)(?:[\s\w,*()='"$]+)?`,
		),
		RedactedSQLPlaceholder,
	},

	{regexp.MustCompile(`(/[\w.-]+){2,}`), RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`), RedactedPathPlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	for _, r := range rules {
		input = r.pattern.ReplaceAllString(input, r.replacement)
	}
	return input
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
