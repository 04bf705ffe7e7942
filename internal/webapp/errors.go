package webapp

import (
	"errors"
	"net/http"
)

type ErrorKind string

const (
	KindInvalidInput  ErrorKind = "invalid_input"
	KindConfiguration ErrorKind = "configuration"
	KindUpstream      ErrorKind = "upstream"
	KindUpstreamEmpty ErrorKind = "upstream_empty_result"
	KindPersistence   ErrorKind = "persistence"
	KindInternal      ErrorKind = "internal"
)

// Error is the only error shape the HTTP layer writes. Message is safe to
// show to users; Detail carries diagnostics such as raw provider output.
type Error struct {
	Kind    ErrorKind
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return string(e.Kind) + ": " + e.Message + ": " + e.Detail
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Status() int {
	if e.Kind == KindInvalidInput {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (e *Error) Response() ErrorResponse {
	return ErrorResponse{Error: e.Message, Kind: e.Kind, Detail: e.Detail}
}

func newError(kind ErrorKind, message string, err error) *Error {
	e := &Error{Kind: kind, Message: message, Err: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}

func invalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

// asError converts any error into an *Error, treating unknown errors as
// internal.
func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(KindInternal, "Server error", err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
