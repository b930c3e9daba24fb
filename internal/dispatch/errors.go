// File: internal/dispatch/errors.go
package dispatch

import (
	"errors"
	"fmt"
)

// MatchFailure reports that an expected visual/textual condition was not
// observed (not-found, assertion-false, image-not-matched). Recoverable by
// default; Fatal marks failures the run must stop on, AttachScreenshot asks
// diagnostics to include the screen at failure time.
type MatchFailure struct {
	// Description is the literal description/assertion text from the script.
	Description string
	// Condition names what failed, e.g. "not found" or "timed out after 30s".
	Condition        string
	Fatal            bool
	AttachScreenshot bool
	// Screenshot is the base64 PNG captured at failure time, when requested.
	Screenshot string
}

func (e *MatchFailure) Error() string {
	return fmt.Sprintf("%s while searching for %q", e.Condition, e.Description)
}

// ConfigError reports malformed arguments, unsupported command names or exec
// languages, and conflicting mutually-exclusive parameters. Always fatal,
// never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid command configuration: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err must abort the remaining command sequence.
// Configuration errors always do; match failures only when flagged.
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return true
	}
	var match *MatchFailure
	if errors.As(err, &match) {
		return match.Fatal
	}
	// Transport and unknown errors abort: the sandbox state is unknowable.
	return err != nil
}
