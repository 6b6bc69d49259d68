package retry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/smithy-go"
	"google.golang.org/genai"
)

// APIError is a service-side failure of an external backend.
type APIError struct {
	Backend    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: api error %d: %s", e.Backend, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: api error: %s", e.Backend, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// APIStatus implements the status classification hook.
func (e *APIError) APIStatus() int { return e.StatusCode }

// statusCoder is implemented by transport errors that carry an HTTP-like status.
type statusCoder interface {
	APIStatus() int
}

var (
	// A 4xx/5xx code only counts next to a status word, at the start of the
	// message or before its reason phrase. Bare numbers are often house
	// numbers or stop indices.
	statusPattern = regexp.MustCompile(`\b(?:status|code|http|error)(?: code)?[\s:=#]*[45]\d{2}\b|^[45]\d{2}\b|\b[45]\d{2} (?:bad request|unauthorized|forbidden|too many requests|internal server error|bad gateway|service unavailable|gateway timeout)`)
	apiSignals    = []string{
		"rate limit", "ratelimit", "too many requests", "quota", "permission",
		"unauthorized", "forbidden", "resource exhausted", "resource_exhausted",
		"throttl", "unavailable", "overloaded",
	}
)

// IsAPIError reports whether err is a service-side backend error eligible for
// fallback. Cancellation is never an API error.
func IsAPIError(err error) bool {
	if err == nil || IsCancellation(err) {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.APIStatus() >= 400
	}

	var smithyErr smithy.APIError
	if errors.As(err, &smithyErr) {
		return true
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return true
	}
	var genaiPtr *genai.APIError
	if errors.As(err, &genaiPtr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if statusPattern.MatchString(msg) {
		return true
	}
	for _, s := range apiSignals {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsCancellation reports whether err stems from a cancelled context.
// Deadline errors are not cancellation: a per-call timeout is retryable.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
