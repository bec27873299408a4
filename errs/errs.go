// Package errs provides structured error types and helpers for back-office services.
package errs

import (
	"strconv"
	"strings"
)

// Code identifies an error category recognised across the service.
type Code string

const (
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNotFound indicates a missing resource.
	CodeNotFound Code = "not_found"
	// CodeConflict indicates a concurrent mutation conflict.
	CodeConflict Code = "conflict"
	// CodeData indicates broken reference data (unknown currency, bond or event type).
	CodeData Code = "data_error"
	// CodeStorage indicates a persistence-layer failure.
	CodeStorage Code = "storage"
	// CodeUnavailable indicates the service is temporarily unavailable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the back-office stack.
type E struct {
	Op      string
	Code    Code
	EventID int64
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		EventID: 0,
		Message: "",
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithEventID records the event id the failure relates to.
func WithEventID(id int64) Option {
	return func(e *E) {
		e.EventID = id
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.EventID > 0 {
		parts = append(parts, "event_id="+strconv.FormatInt(e.EventID, 10))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the error code from err when it carries an *E, falling back to CodeStorage.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *E
	if ok := asE(err, &e); ok {
		return e.Code
	}
	return CodeStorage
}

func asE(err error, target **E) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
