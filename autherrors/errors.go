package autherrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes surfaced by the authenticated client
var (
	// Transport errors
	ErrNetwork = errors.New("network error")

	// HTTP status errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrServer       = errors.New("server error")
	ErrHTTP         = errors.New("http error")

	// Refresh errors
	ErrNoRefreshToken         = errors.New("no refresh token")
	ErrInvalidRefreshResponse = errors.New("invalid refresh response")
	ErrRefreshTransport       = errors.New("refresh transport failure")
	ErrRefreshInProgress      = errors.New("refresh already in progress")

	// Storage errors
	ErrCredentialStorage = errors.New("credential storage failure")
)

// NetworkError reports a call that never received a response, including timeouts.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// StatusError reports a response with a status code of 400 or above.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string // message from the response body, if any
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, msg)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrServer:
		return e.StatusCode >= http.StatusInternalServerError
	case ErrHTTP:
		return e.StatusCode < http.StatusInternalServerError && e.StatusCode != http.StatusUnauthorized
	}
	return false
}

// RefreshKind classifies why a refresh failed.
type RefreshKind int

const (
	NoRefreshToken RefreshKind = iota + 1
	InvalidResponse
	TransportFailure
)

func (k RefreshKind) String() string {
	switch k {
	case NoRefreshToken:
		return "no refresh token"
	case InvalidResponse:
		return "invalid response"
	case TransportFailure:
		return "transport failure"
	}
	return "unknown"
}

func (k RefreshKind) sentinel() error {
	switch k {
	case NoRefreshToken:
		return ErrNoRefreshToken
	case InvalidResponse:
		return ErrInvalidRefreshResponse
	case TransportFailure:
		return ErrRefreshTransport
	}
	return nil
}

// RefreshError is returned by every failed refresh. It is never retried.
type RefreshError struct {
	Kind RefreshKind
	Err  error
}

// NewRefreshError builds a RefreshError of the given kind wrapping err (which may be nil).
func NewRefreshError(kind RefreshKind, err error) *RefreshError {
	return &RefreshError{Kind: kind, Err: err}
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return "refresh failed: " + e.Kind.String()
	}
	return fmt.Sprintf("refresh failed: %s: %v", e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

func (e *RefreshError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// IsRefreshError reports whether err carries a RefreshError.
func IsRefreshError(err error) bool {
	var re *RefreshError
	return errors.As(err, &re)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
