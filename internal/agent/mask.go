package agent

import "regexp"

// secretPatterns catch the common credential shapes that might leak into an
// agent's output (provider API keys, bearer tokens, GitHub PATs). This is
// intentionally narrow: it only keeps the adapter from echoing an
// obvious credential back to a
// log or scratchpad artifact.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{10,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`),
}

const maskedPlaceholder = "[REDACTED]"

// maskSecrets replaces any recognized credential shape in s with a fixed
// placeholder before output is returned to the caller.
func maskSecrets(s string) string {
	for _, pat := range secretPatterns {
		s = pat.ReplaceAllString(s, maskedPlaceholder)
	}
	return s
}
