package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the store and the presentation layer.
type Kind string

const (
	// KindValidation covers failures resolved locally before any network call.
	KindValidation Kind = "validation"
	// KindAuthentication means no credential is present at all.
	KindAuthentication Kind = "authentication"
	// KindSessionExpired means the backend rejected the credential.
	KindSessionExpired Kind = "session_expired"
	// KindConnectivity covers unreachable host, DNS failure and timeout.
	KindConnectivity Kind = "connectivity"
	// KindBackend means the backend responded but reported a failure.
	KindBackend Kind = "backend"
)

// Error is the typed failure shape shared by the gateway and the store.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails returns a copy carrying backend-supplied detail text.
func (e *Error) WithDetails(details string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Details = details
	return &clone
}

// Predefined errors for common local scenarios.
var (
	ErrNotAuthenticated = New(KindAuthentication, "not authenticated, please log in")
	ErrSessionExpired   = New(KindSessionExpired, "session expired, please log in again")
	ErrNoSelection      = New(KindValidation, "no rows selected")
	ErrNoRun            = New(KindValidation, "no run number loaded")
	ErrSessionBusy      = New(KindValidation, "another operation is in progress")
	ErrInvalidRunNo     = New(KindValidation, "run number must be a positive integer")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, KindBackend, err.Error())
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
