package domain

import (
	"errors"
	"fmt"
)

// ErrorClass drives the scheduler's backoff choice and the stream
// client's retry decision.
type ErrorClass int

const (
	ErrClassTransient ErrorClass = iota
	ErrClassRateLimited
	ErrClassAuth
)

func (c ErrorClass) String() string {
	switch c {
	case ErrClassTransient:
		return "transient"
	case ErrClassRateLimited:
		return "rate_limited"
	case ErrClassAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// FetchError is a classified failure from the refresh fetch call or the
// streaming handshake.
type FetchError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Class, e.Message)
}

// Classify extracts the error class, defaulting to transient for
// anything unclassified (plain network errors, timeouts).
func Classify(err error) ErrorClass {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ErrClassTransient
}
