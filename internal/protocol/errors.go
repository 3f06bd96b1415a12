package protocol

import (
	"errors"
	"fmt"
)

const (
	// Connection level. All of these end the session.
	ErrConnect = "E_CONNECT"
	ErrSend    = "E_SEND"
	ErrReceive = "E_RECEIVE"
	ErrTimeout = "E_TIMEOUT"

	// Frame level. Recovered by the decoder.
	ErrMalformed = "E_MALFORMED"

	// Session level: the server disagrees with the expected match lifecycle.
	ErrProtocolOrder = "E_PROTOCOL_ORDER"
	ErrOutOfRange    = "E_OUT_OF_RANGE"
)

var knownCodes = map[string]struct{}{
	ErrConnect:       {},
	ErrSend:          {},
	ErrReceive:       {},
	ErrTimeout:       {},
	ErrMalformed:     {},
	ErrProtocolOrder: {},
	ErrOutOfRange:    {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is the error type shared by every layer of the client.
type Error struct {
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so callers can write
// errors.Is(err, &protocol.Error{Code: protocol.ErrSend}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func NewError(code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func Errorf(code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsReceive reports whether err is a stream-level receive failure,
// including a read timeout.
func IsReceive(err error) bool {
	c := CodeOf(err)
	return c == ErrReceive || c == ErrTimeout
}
