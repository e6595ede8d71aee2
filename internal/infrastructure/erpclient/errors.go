package erpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/katecvn/backoffice/internal/domain/allocation"
)

// ErrMalformedResponse is returned when a response body does not match the
// upstream envelope schema.
var ErrMalformedResponse = errors.New("erpclient: malformed response")

// ErrInvalidPathSegment is returned before any request is sent when an id
// cannot be used as a URL path segment.
var ErrInvalidPathSegment = errors.New("erpclient: invalid path segment")

// TransportError is a failure to reach the upstream or read its response
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("erpclient: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// rateLimitedError is a 429 carrying a Retry-After hint
type rateLimitedError struct {
	remote     *allocation.RemoteError
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return e.remote.Error()
}

func (e *rateLimitedError) Unwrap() error {
	return e.remote
}

// errorEnvelope is the upstream error body
type errorEnvelope struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// newRemoteError builds the RemoteError for a non-2xx response. The upstream
// message is kept verbatim; bodies that are not an error envelope fall back to
// the status text.
func newRemoteError(resp *response) *allocation.RemoteError {
	re := &allocation.RemoteError{StatusCode: resp.status}

	var env errorEnvelope
	if err := json.Unmarshal(resp.body, &env); err == nil && strings.TrimSpace(env.Message) != "" {
		re.Code = env.Code
		re.Message = env.Message
		return re
	}

	re.Message = fmt.Sprintf("Upstream returned %d %s", resp.status, http.StatusText(resp.status))
	return re
}

// shouldRetry reports whether err is transient
func shouldRetry(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var re *allocation.RemoteError
	if errors.As(err, &re) {
		return re.StatusCode >= http.StatusInternalServerError || re.StatusCode == http.StatusTooManyRequests
	}
	return false
}
