package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Kind classifies engine errors by the layer that produced them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConnection covers failures to establish a channel.
	KindConnection
	// KindHandshake covers a rejected or malformed session negotiation.
	KindHandshake
	// KindIO covers mid-session read or write failures.
	KindIO
	// KindCodec covers bad key material and corrupt ciphertext.
	KindCodec
	// KindValidation covers API misuse. These are returned synchronously.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindHandshake:
		return "HandshakeError"
	case KindIO:
		return "IOError"
	case KindCodec:
		return "CodecError"
	case KindValidation:
		return "ValidationError"
	default:
		return "UnknownError"
	}
}

// Error codes carried by Error.Code.
const (
	CodeRefused        = "refused"
	CodeReset          = "reset"
	CodeTimeout        = "timeout"
	CodeClosed         = "closed"
	CodeInvalidSession = "invalid_session"
	CodeMalformed      = "malformed"
	CodeServerError    = "server_error"
	CodeBadKey         = "bad_key"
	CodeCorrupt        = "corrupt"
	CodeMisuse         = "misuse"
	CodeState          = "state"
	CodeIO             = "io"
)

// Error is the engine error type.
type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind and, when set, Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// NewError builds an Error.
func NewError(kind Kind, code, op string, err error) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Err: err}
}

func ConnectionError(code, op string, err error) *Error {
	return NewError(KindConnection, code, op, err)
}

func HandshakeError(code, op string, err error) *Error {
	return NewError(KindHandshake, code, op, err)
}

func IOError(code, op string, err error) *Error {
	return NewError(KindIO, code, op, err)
}

func CodecError(code, op string, err error) *Error {
	return NewError(KindCodec, code, op, err)
}

// ValidationError reports API misuse with a formatted message.
func ValidationError(op, format string, args ...any) *Error {
	return NewError(KindValidation, CodeMisuse, op, fmt.Errorf(format, args...))
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Classify maps a network error to an error code.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNABORTED):
		return CodeReset
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}
	return CodeIO
}
