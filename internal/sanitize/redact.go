package sanitize

import "regexp"

// credentialPattern is one named, pre-compiled redaction rule. Grounded on
// tarsy's pkg/masking.CompiledPattern, scoped down to the built-in,
// always-on patterns relevant to error-string hygiene (spec.md §7) rather
// than tarsy's full custom-pattern/MCP-server registry machinery.
type credentialPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns are always applied by RedactError, in order. Order
// matters: the bearer-token pattern runs before the connection-string
// key=value pattern, so in a "password=Bearer <token>" style value the
// token is redacted first and the key=value pass then masks what is left;
// the other order would mask only the word "Bearer" and leave the token.
var builtinPatterns = []credentialPattern{
	{
		name:        "bearer_token",
		regex:       regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/]+=*`),
		replacement: "Bearer ***REDACTED***",
	},
	{
		name:        "connection_string_field",
		regex:       regexp.MustCompile(`(?i)(password|passwd|pwd|secret|api[_-]?key|access[_-]?key)\s*=\s*[^\s;&]+`),
		replacement: "$1=***REDACTED***",
	},
	{
		name:        "basic_auth_url",
		regex:       regexp.MustCompile(`(?i)(https?://)[^:/\s@]+:[^@/\s]+@`),
		replacement: "$1***REDACTED***@",
	},
}

// RedactError removes well-known credential-looking substrings from an
// error message before it is emitted on the event stream (spec.md §7:
// "error messages are passed through a redaction pass that removes
// well-known credential-looking substrings").
func RedactError(msg string) string {
	for _, p := range builtinPatterns {
		msg = p.regex.ReplaceAllString(msg, p.replacement)
	}
	return msg
}
