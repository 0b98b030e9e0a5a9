package permanent

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a delivery failure that a callback must not retry.
type Error struct {
	Err error
}

func (e Error) Error() string {
	if e.Err == nil {
		return "permanent delivery error"
	}
	return e.Err.Error()
}

func (e Error) Unwrap() error { return e.Err }

// Permanent reports the non-retryable marker.
func (Error) Permanent() bool { return true }

// Mark wraps err so retry loops stop on it.
// Params: source error.
// Returns: marked error or nil.
func Mark(err error) error {
	if err == nil {
		return nil
	}
	return Error{Err: err}
}

// Markf formats a new error and marks it permanent.
func Markf(format string, args ...any) error {
	return Error{Err: fmt.Errorf(format, args...)}
}

// FromStatus classifies an HTTP response status of an alarm delivery.
// Params: status code and a short response body excerpt for the message.
// Returns: nil on 2xx; permanent error on client errors except 408 and 429; plain error otherwise.
func FromStatus(code int, excerpt []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return fmt.Errorf("status %d: %s", code, excerpt)
	case code >= 400 && code < 500:
		return Markf("status %d: %s", code, excerpt)
	default:
		return fmt.Errorf("status %d: %s", code, excerpt)
	}
}

// Is reports whether any error in the chain, including joined errors, is permanent.
func Is(err error) bool {
	var tagged interface{ Permanent() bool }
	return err != nil && errors.As(err, &tagged) && tagged.Permanent()
}
