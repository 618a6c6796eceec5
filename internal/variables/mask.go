package variables

import "regexp"

const maskPlaceholder = "***"

// sensitiveNamePattern matches variable names that by convention hold
// secrets. valueShapePatterns matches value shapes that look like secrets
// regardless of the name they were captured under. Both tables are adapted
// from internal/coding/git_credentials.go's redactPatterns, generalized from
// "redact git credential output" to the broader password|token|secret|auth
// family spec.md §4.3 names.
var sensitiveNamePattern = regexp.MustCompile(`(?i)(password|token|secret|auth|key|credential)`)

var valueShapePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`),       // GitHub tokens
	regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-._~+/]+=*\b`),   // bearer tokens
	regexp.MustCompile(`://[^/\s:]+:[^/\s@]+@`),                // user:pass@host URLs
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`), // JWTs
	regexp.MustCompile(`(?i)\b[a-z0-9_]*(?:secret|token|password|key)\s*[:=]\s*\S+`),
}

// MaskForDisplay returns a masked placeholder when name looks sensitive, and
// otherwise value with any secret-shaped substrings masked. It is applied
// only when rendering to logs/events; the value handed to the executor is
// never passed through it.
func MaskForDisplay(name, value string) string {
	if sensitiveNamePattern.MatchString(name) {
		return maskPlaceholder
	}
	return MaskValueShapes(value)
}

// MaskValueShapes scrubs any secret-shaped substrings out of s regardless of
// the variable name it came from, for use when rendering arbitrary command
// output (stdout/stderr) to an event or log sink.
func MaskValueShapes(s string) string {
	for _, pattern := range valueShapePatterns {
		s = pattern.ReplaceAllString(s, maskPlaceholder)
	}
	return s
}

// MaskSnapshot returns a copy of a flattened variable snapshot with every
// sensitive-looking entry masked, for handing to the Event Logger.
func MaskSnapshot(snapshot map[string]string) map[string]string {
	out := make(map[string]string, len(snapshot))
	for k, v := range snapshot {
		out[k] = MaskForDisplay(k, v)
	}
	return out
}
