package correlator

import (
	"errors"
	"fmt"
)

// Code is the machine-readable kind of a call failure.
type Code string

const (
	CodeTimeout      Code = "TIMEOUT"
	CodeAborted      Code = "ABORTED"
	CodeSendError    Code = "SEND_ERROR"
	CodeDestroyed    Code = "DESTROYED"
	CodeRPCDestroyed Code = "RPC_DESTROYED"
	CodeRemoteError  Code = "REMOTE_ERROR"
)

// Error is the failure of an issued call. Callers branch on Code with
// errors.Is against the sentinels below; Message is for humans.
type Error struct {
	Code    Code
	Message string
	Err     error // underlying cause, if any
}

// Sentinels for errors.Is. Matching is by Code only.
var (
	ErrTimeout      = &Error{Code: CodeTimeout, Message: "request timed out"}
	ErrAborted      = &Error{Code: CodeAborted, Message: "request aborted"}
	ErrSend         = &Error{Code: CodeSendError, Message: "send failed"}
	ErrDestroyed    = &Error{Code: CodeDestroyed, Message: "Communicator destroyed"}
	ErrRPCDestroyed = &Error{Code: CodeRPCDestroyed, Message: "RPC destroyed"}
	ErrRemote       = &Error{Code: CodeRemoteError, Message: "remote error"}
)

func NewError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func timeoutError(timeoutMs int64) *Error {
	return NewError(CodeTimeout, fmt.Sprintf("Request timeout after %dms", timeoutMs), nil)
}
