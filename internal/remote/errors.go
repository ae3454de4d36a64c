package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind tags a remote failure.
type Kind int

const (
	// KindOther is any failure that retrying cannot fix.
	KindOther Kind = iota
	// KindRateLimited is the service asking the caller to slow down.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

var (
	// ErrRetriesExhausted is returned once a step stays rate limited past the retry ceiling.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Error is a failure reported by a remote call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	// RetryAfter is the server's hint, zero when absent.
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Kind == KindRateLimited {
		b.WriteString(": rate limited")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	switch {
	case e.Message != "":
		b.WriteString(": " + e.Message)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// RateLimited builds a KindRateLimited error.
func RateLimited(op string, retryAfter time.Duration, err error) *Error {
	return &Error{Kind: KindRateLimited, Op: op, StatusCode: http.StatusTooManyRequests, RetryAfter: retryAfter, Err: err}
}

// Other builds a KindOther error.
func Other(op string, err error) *Error {
	return &Error{Kind: KindOther, Op: op, Err: err}
}

// FromStatus classifies an HTTP status code. 429 is rate limiting, everything else is Other.
func FromStatus(op string, status int, retryAfter time.Duration, message string) *Error {
	e := &Error{Kind: KindOther, Op: op, StatusCode: status, Message: message}
	if status == http.StatusTooManyRequests {
		e.Kind = KindRateLimited
		e.RetryAfter = retryAfter
	}
	return e
}

// Classify returns the failure kind of err. Errors that are not *Error are KindOther.
func Classify(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindOther
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool {
	return err != nil && Classify(err) == KindRateLimited
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// StepError describes a failed protocol step.
type StepError struct {
	Step     string
	Attempts int
	// Err is the category: ErrRetriesExhausted, a context error, or the remote failure itself.
	Err error
	// Last is the final remote error when Err is a category sentinel.
	Last error
}

func (e *StepError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s: %v after %d attempt(s): %v", e.Step, e.Err, e.Attempts, e.Last)
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Last != nil {
		return []error{e.Err, e.Last}
	}
	return []error{e.Err}
}
