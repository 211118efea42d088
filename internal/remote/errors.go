package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRejected marks a request the server refused for good. Retrying the
	// same payload will not succeed.
	ErrRejected = errors.New("rejected by server")

	// ErrUnauthorized marks a request refused because of the credentials, not
	// the payload.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformed marks a response or event that could not be decoded into
	// a valid message record.
	ErrMalformed = errors.New("malformed record")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is reports 401 and 403 as ErrUnauthorized and the remaining 4xx responses
// as ErrRejected, except request timeouts and rate limiting which are worth
// retrying.
func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return target == ErrUnauthorized
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return target == ErrRejected && e.StatusCode >= 400 && e.StatusCode < 500
}

// IsPermanent reports whether a push failure should fail the message
// immediately instead of counting an attempt.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRejected)
}

// IsUnauthorized reports whether the server refused the auth token.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
