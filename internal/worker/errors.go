package worker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxReason caps the failed_reason stored on a job row.
const maxReason = 2 * maxOutput

// UpstreamError reports a failure inside an external collaborator such as the
// converter process or the mail provider. Output holds whatever diagnostics
// the collaborator produced.
type UpstreamError struct {
	Op     string
	Output string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Output)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// cleanText makes s storable in a TEXT column: invalid UTF-8 is replaced, NUL
// bytes are dropped and the result is cut to at most limit bytes on a rune
// boundary.
func cleanText(s string, limit int) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
