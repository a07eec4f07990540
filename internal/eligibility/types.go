// Package eligibility talks to the remote student-eligibility service.
//
// A lookup takes a voter id and a serial suffix and returns a Result. A
// Result with a non-empty Error is a remote rejection, not a Go error; Go
// errors are reserved for transport and decoding failures.
package eligibility

import (
	"context"
	"errors"
	"regexp"
)

var (
	// ErrUnavailable wraps transport failures, timeouts and non-2xx replies.
	ErrUnavailable = errors.New("eligibility service unavailable")
	// ErrMalformed is returned when the reply cannot be decoded.
	ErrMalformed = errors.New("eligibility reply malformed")
)

// Result is the projection of one remote reply.
type Result struct {
	OnCampus   bool   `json:"is_on_campus"`
	WebEnabled bool   `json:"is_web_enabled"`
	Error      string `json:"error,omitempty"`
	Category   string `json:"category,omitempty"`
	Unit       string `json:"unit,omitempty"`
}

// Eligible reports whether the voter may receive a ballot token.
func (r Result) Eligible() bool { return r.OnCampus && r.WebEnabled }

// Sanitized returns a copy whose error text has serial hints redacted.
func (r Result) Sanitized() Result {
	r.Error = Sanitize(r.Error)
	return r
}

// Client performs a single remote lookup.
type Client interface {
	Lookup(ctx context.Context, uid, serial string) (Result, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, uid, serial string) (Result, error)

func (f ClientFunc) Lookup(ctx context.Context, uid, serial string) (Result, error) {
	return f(ctx, uid, serial)
}

var (
	hintPattern   = regexp.MustCompile(`^.+:(\d+)\s*$`)
	redactPattern = regexp.MustCompile(`:\d+`)
)

// SerialHint extracts the trailing ":<digits>" correction the service appends
// when the probed serial is wrong.
func SerialHint(msg string) (string, bool) {
	m := hintPattern.FindStringSubmatch(msg)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Sanitize replaces every ":<digits>" with ":***".
func Sanitize(msg string) string {
	return redactPattern.ReplaceAllString(msg, ":***")
}
