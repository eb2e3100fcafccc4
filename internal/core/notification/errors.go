package notification

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrStale marks a result that arrived after the identity it was requested
// under changed. It is never shown to the user.
var ErrStale = errors.New("stale response discarded")

// NetworkError is a request that got no response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response.
type HTTPError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
}

// Temporary reports whether retrying a read could plausibly succeed.
func (e *HTTPError) Temporary() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	default:
		return false
	}
}

// ParseError is a response body that could not be decoded.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsParse reports whether err is a ParseError.
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// IsHTTP reports whether err is an HTTPError.
func IsHTTP(err error) bool {
	var target *HTTPError
	return errors.As(err, &target)
}

// IsStale reports whether err is ErrStale.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var target *HTTPError
	return errors.As(err, &target) && target.StatusCode == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var target *HTTPError
	if errors.As(err, &target) {
		return target.StatusCode
	}
	return 0
}
