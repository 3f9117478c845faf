// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quest

import (
	"errors"
	"fmt"
)

// Transport error codes. Gateways use their own code ranges for
// application errors; those pass through unchanged.
const (
	CodeUnknown           = 20000
	CodeConnectionClosed  = 20001
	CodeTimeout           = 20002
	CodeUnknownMethod     = 20003
	CodeEncoding          = 20004
	CodeDecoding          = 20005
	CodeInvalidConnection = 20012
)

// Error is a coded failure: an error answer from the peer or a
// transport failure reported locally. Two Errors match under
// [errors.Is] when their codes are equal.
type Error struct {
	Code    int    `cbor:"code"`
	Message string `cbor:"ex"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("quest error %d", e.Code)
	}
	return fmt.Sprintf("quest error %d: %s", e.Code, e.Message)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

// NewError returns an Error with a formatted message.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrTimeout           = &Error{Code: CodeTimeout, Message: "quest timed out"}
	ErrConnectionClosed  = &Error{Code: CodeConnectionClosed, Message: "connection closed"}
	ErrInvalidConnection = &Error{Code: CodeInvalidConnection, Message: "no available connection"}
)

// Code extracts the error code from err. It returns 0 for nil and
// CodeUnknown for errors that carry no code.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var questError *Error
	if errors.As(err, &questError) {
		return questError.Code
	}
	return CodeUnknown
}

// asError converts a handler error into the Error sent to the peer.
func asError(err error) *Error {
	var questError *Error
	if errors.As(err, &questError) {
		return questError
	}
	return &Error{Code: CodeUnknown, Message: err.Error()}
}
