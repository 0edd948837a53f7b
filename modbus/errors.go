package modbus

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a core-level failure as one of a small closed set
// of kinds the caller can switch on, distinct from the wire-level
// ExceptionCode a peer returns.
type ErrorKind int

const (
	// KindConnection means the transport is unavailable or closed mid-exchange.
	KindConnection ErrorKind = iota
	// KindIO means a framing/decoding failure that cannot be resynced on this connection.
	KindIO
	// KindTimeout means no reply arrived before the deadline.
	KindTimeout
	// KindParameter means programmer misuse: bad address, wrong count, unsupported option.
	KindParameter
	// KindNoSuchDevice means the request addressed an unknown device id.
	KindNoSuchDevice
	// KindNotImplemented means the function code is not supported by this implementer.
	KindNotImplemented
	// KindInvalidMessage means a well-framed but semantically invalid PDU.
	KindInvalidMessage
	// KindMessageRegister means registering a custom message with a conflicting
	// or invalid function code.
	KindMessageRegister
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "ConnectionError"
	case KindIO:
		return "IOError"
	case KindTimeout:
		return "Timeout"
	case KindParameter:
		return "Parameter"
	case KindNoSuchDevice:
		return "NoSuchDevice"
	case KindNotImplemented:
		return "NotImplemented"
	case KindInvalidMessage:
		return "InvalidMessage"
	case KindMessageRegister:
		return "MessageRegister"
	default:
		return "Unknown"
	}
}

// CoreError is a core-level failure tagged with a Kind, as opposed to a
// ModbusError which carries a peer-returned ExceptionCode. Protocol
// exceptions are never wrapped in a CoreError: they travel back to the
// caller as a *pdu.Response whose IsException() is true, or, from the
// pdu.Parse* functions and the client's typed methods, as a *ModbusError.
type CoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Is reports whether target is a *CoreError with the same Kind, so callers
// can write errors.Is(err, &modbus.CoreError{Kind: modbus.KindTimeout}).
func (e *CoreError) Is(target error) bool {
	var t *CoreError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewCoreError builds a CoreError of the given kind.
func NewCoreError(kind ErrorKind, op string, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Err: err}
}

// Sentinel kinds for errors.Is comparisons without constructing a full CoreError.
var (
	ErrConnection      = &CoreError{Kind: KindConnection}
	ErrIO              = &CoreError{Kind: KindIO}
	ErrTimeout         = &CoreError{Kind: KindTimeout}
	ErrParameter       = &CoreError{Kind: KindParameter}
	ErrNoSuchDevice    = &CoreError{Kind: KindNoSuchDevice}
	ErrNotImplemented  = &CoreError{Kind: KindNotImplemented}
	ErrInvalidMessage  = &CoreError{Kind: KindInvalidMessage}
	ErrMessageRegister = &CoreError{Kind: KindMessageRegister}
)
