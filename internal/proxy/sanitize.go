package proxy

import "regexp"

const maxSanitizedLength = 200

var (
	apiKeyPattern = regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`)
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-]{20,}`)
	pathPattern   = regexp.MustCompile(`(?:/[\w.\-]+){2,}`)
)

// Sanitize removes API-key-like and bearer-token-like substrings and
// path-like substrings from an error message before it is shown to a
// client, then truncates to maxSanitizedLength.
func Sanitize(msg string) string {
	msg = apiKeyPattern.ReplaceAllString(msg, "[redacted]")
	msg = bearerPattern.ReplaceAllString(msg, "Bearer [redacted]")
	msg = pathPattern.ReplaceAllString(msg, "[path]")

	if len(msg) > maxSanitizedLength {
		msg = msg[:maxSanitizedLength]
	}
	return msg
}
