package schema

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, machine-readable part of a domain error.
type ErrorCode string

const (
	CodeUserNotFound      ErrorCode = "USER_NOT_FOUND"
	CodeUserAlreadyExists ErrorCode = "USER_ALREADY_EXISTS"
	CodePermissionDenied  ErrorCode = "PERMISSION_DENIED"
	CodeMalformedRecord   ErrorCode = "MALFORMED_RECORD"
)

// ParseErrorCode maps a wire code back to an ErrorCode.
func ParseErrorCode(s string) (ErrorCode, bool) {
	switch code := ErrorCode(s); code {
	case CodeUserNotFound, CodeUserAlreadyExists, CodePermissionDenied, CodeMalformedRecord:
		return code, true
	}
	return "", false
}

// Error is a domain failure carrying a code and a human-readable message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so errors.Is(err, &Error{Code: c}) works.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code && (other.Message == "" || other.Message == e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
