package planningcenter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnauthenticated is returned by callers that require a stored access token.
var ErrUnauthenticated = errors.New("planningcenter: not authenticated")

// AuthError reports a missing or rejected token. Message is safe to show to the user.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Message, e.Err)
	}
	return "auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response from the provider.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// PaginationError reports a malformed or non-terminating pagination sequence.
type PaginationError struct {
	URL    string
	Reason string
	Err    error
}

func (e *PaginationError) Error() string {
	return fmt.Sprintf("pagination at %s: %s", e.URL, e.Reason)
}

func (e *PaginationError) Unwrap() error { return e.Err }

// NormalizationError reports a record missing a required field.
type NormalizationError struct {
	Type  string
	ID    string
	Field string
	Err   error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize %s %q: field %s: %v", e.Type, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("normalize %s %q: missing required field %s", e.Type, e.ID, e.Field)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// TimeoutError reports a provider call that exceeded its deadline.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout calling %s: %v", e.URL, e.Err) }

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransportError reports a network-level failure or an undecodable response.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// classifyTransport maps an error from http.Client.Do to TimeoutError or TransportError.
func classifyTransport(u string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: u, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{URL: u, Err: err}
	}
	return &TransportError{URL: u, Err: err}
}
