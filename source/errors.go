package source

import (
	"errors"
	"fmt"
)

// Code is a backend status code.
type Code uint32

const (
	CodeCallFailed   Code = 0x80004005
	CodeNoSupport    Code = 0x80040102
	CodeNotFound     Code = 0x8004010F
	CodeCorruptData  Code = 0x8004011B
	CodeNoAccess     Code = 0x80070005
	CodeOutOfMemory  Code = 0x8007000E
	CodeInvalidParam Code = 0x80070057
)

var codeNames = map[Code]string{
	CodeCallFailed:   "call failed",
	CodeNoSupport:    "not supported",
	CodeNotFound:     "not found",
	CodeCorruptData:  "corrupt data",
	CodeNoAccess:     "access denied",
	CodeOutOfMemory:  "out of memory; property value likely too long",
	CodeInvalidParam: "invalid parameter",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return fmt.Sprintf("0x%08X (%s)", uint32(c), name)
	}
	return fmt.Sprintf("0x%08X", uint32(c))
}

// Error is a failure reported by the message-store backend.
type Error struct {
	Op   string
	Tag  Tag
	Code Code
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Tag != 0 {
		msg += " " + e.Tag.String()
	}
	msg += ": backend error " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a backend error for op.
func NewError(op string, tag Tag, code Code) *Error {
	return &Error{Op: op, Tag: tag, Code: code}
}

// CodeOf extracts the backend status code carried by err.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is a backend not-found indication.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == CodeNotFound
}
