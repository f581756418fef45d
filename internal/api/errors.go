package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport failure
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindStatus  ErrorKind = "status"
	KindDecode  ErrorKind = "decode"
	KindAuth    ErrorKind = "auth"
)

// ErrNoCredentials is returned when an authenticated call is made without a token
var ErrNoCredentials = errors.New("no credentials available")

// TransportError is the single error type returned by Client. The client
// never retries; whether to try again is up to the caller.
type TransportError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s: remote returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the remote rejected the credentials
func (e *TransportError) Unauthorized() bool {
	return e.Kind == KindAuth || (e.Kind == KindStatus && e.StatusCode == 401)
}

// IsTransportError reports whether err is (or wraps) a TransportError
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
