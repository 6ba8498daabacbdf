package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable class of a workflow failure.
type ErrorKind string

const (
	KindFormat             ErrorKind = "format_error"
	KindSchema             ErrorKind = "schema_error"
	KindInsufficientInputs ErrorKind = "insufficient_inputs"
	KindNotFound           ErrorKind = "not_found"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindMergeTooLarge      ErrorKind = "merge_too_large"
	KindInternal           ErrorKind = "internal"
)

// Error is a classified workflow failure. Message is safe to show to users.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// FormatError reports a file that cannot be parsed as tabular data.
func FormatError(err error, format string, args ...any) *Error {
	return NewError(KindFormat, err, format, args...)
}

// SchemaError reports a table without an identifier-capable column.
func SchemaError(format string, args ...any) *Error {
	return NewError(KindSchema, nil, format, args...)
}

// InsufficientInputsError reports a merge requested with too few files.
func InsufficientInputsError(have, need int) *Error {
	return NewError(KindInsufficientInputs, nil, "merge needs at least %d files, session has %d", need, have)
}

// NotFoundError reports an unknown session or file.
func NotFoundError(what, id string) *Error {
	return NewError(KindNotFound, nil, "%s %q not found", what, id)
}

// InvalidRequestError reports a malformed view or query request.
func InvalidRequestError(format string, args ...any) *Error {
	return NewError(KindInvalidRequest, nil, format, args...)
}

// MergeTooLargeError reports a join whose output would exceed the row limit.
func MergeTooLargeError(limit int) *Error {
	return NewError(KindMergeTooLarge, nil, "merge would produce more than %d rows; remove replicate rows or raise merge.max_rows", limit)
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
