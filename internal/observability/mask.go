package observability

import "strings"

// defaultMaskedHeaders is the case-insensitive set of header names whose
// values are partially hidden before a record is stored.
var defaultMaskedHeaders = map[string]bool{
	"x-api-key":     true,
	"authorization": true,
}

// MaskHeaders copies headers, masking any whose name (case-insensitively)
// is in masked (nil uses defaultMaskedHeaders).
func MaskHeaders(headers map[string]string, masked map[string]bool) map[string]string {
	if masked == nil {
		masked = defaultMaskedHeaders
	}

	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if masked[strings.ToLower(k)] {
			out[k] = maskValue(v)
		} else {
			out[k] = v
		}
	}
	return out
}

// maskValue applies the masking rule: reveal at most the first 10 and last
// 4 characters of a value longer than 20, just the first 6 of one longer
// than 10, and leave shorter values untouched.
func maskValue(v string) string {
	switch {
	case len(v) > 20:
		return v[:10] + "..." + v[len(v)-4:]
	case len(v) > 10:
		return v[:6] + "..."
	default:
		return v
	}
}
