package domain

import "errors"

// Error kinds. Handlers map these to HTTP status codes; the message on an
// *Error is always safe to return to a client.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrUpstream       = errors.New("upstream failure")
)

// Error carries a client-facing message together with its kind and an optional cause.
type Error struct {
	Kind    error
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Validation(msg string) error     { return &Error{Kind: ErrValidation, Message: msg} }
func Authentication(msg string) error { return &Error{Kind: ErrAuthentication, Message: msg} }
func NotFound(msg string) error       { return &Error{Kind: ErrNotFound, Message: msg} }
func Conflict(msg string) error       { return &Error{Kind: ErrConflict, Message: msg} }

// ValidationDetails is a validation error listing each offending item
func ValidationDetails(msg string, details []string) error {
	return &Error{Kind: ErrValidation, Message: msg, Details: details}
}

// Upstream wraps a failure of an external collaborator (OCR process, mail transport).
func Upstream(msg string, err error) error {
	return &Error{Kind: ErrUpstream, Message: msg, Err: err}
}

// Message returns the client-safe message of err, or fallback when err is not an *Error.
func Message(err error, fallback string) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return fallback
}

// Details returns the per-item messages attached to err, if any
func Details(err error) []string {
	var de *Error
	if errors.As(err, &de) {
		return de.Details
	}
	return nil
}
