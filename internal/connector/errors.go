package connector

import (
	"errors"
	"fmt"
	"time"
)

// SetupError marks invalid or missing required configuration, detected
// before any network call. These are setup bugs and fail loudly.
type SetupError struct {
	msg string
}

func (e *SetupError) Error() string { return e.msg }

// Setupf builds a SetupError with fmt formatting.
func Setupf(format string, args ...any) *SetupError {
	return &SetupError{msg: fmt.Sprintf(format, args...)}
}

// IsSetup reports whether err is a configuration setup error.
func IsSetup(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

// RateLimitSnapshot is the most recently observed provider rate-limit state.
type RateLimitSnapshot struct {
	Used      float64   `json:"used"`
	Remaining float64   `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// TransientError is a provider failure that survived bounded retries. It
// carries enough diagnostic context for the caller to log and alert.
type TransientError struct {
	StatusCode int
	Body       string
	RateLimit  *RateLimitSnapshot
	Err        error
}

func (e *TransientError) Error() string {
	msg := fmt.Sprintf("provider error: status %d", e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientError) Unwrap() error { return e.Err }

// TruncateBody bounds a response body for error reporting.
func TruncateBody(body []byte) string {
	const maxLen = 512
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "..."
}
