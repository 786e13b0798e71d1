// Package errors provides the kind-tagged error type used across bdt.
//
// Every FSM-facing or wire-facing failure carries one of the kinds below
// so callers can branch on `errors.KindOf(err)` instead of string-matching.
package errors

import "fmt"

// Kind is a stable, comparable error classification.
type Kind int

const (
	Unknown Kind = iota
	OutOfLimit
	InvalidFormat
	InvalidData
	InvalidParam
	NotSupport
	ErrorState
	AlreadyExists
	NotFound
	NotMatch
	Unmatch
	ConnectionAborted
	Pending
	Reject
	Timeout
)

func (k Kind) String() string {
	switch k {
	case OutOfLimit:
		return "OutOfLimit"
	case InvalidFormat:
		return "InvalidFormat"
	case InvalidData:
		return "InvalidData"
	case InvalidParam:
		return "InvalidParam"
	case NotSupport:
		return "NotSupport"
	case ErrorState:
		return "ErrorState"
	case AlreadyExists:
		return "AlreadyExists"
	case NotFound:
		return "NotFound"
	case NotMatch:
		return "NotMatch"
	case Unmatch:
		return "Unmatch"
	case ConnectionAborted:
		return "ConnectionAborted"
	case Pending:
		return "Pending"
	case Reject:
		return "Reject"
	case Timeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// BuckyError is the kind-tagged error carried through the stack.
type BuckyError struct {
	kind Kind
	msg  string
	err  error
}

func (e *BuckyError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *BuckyError) Unwrap() error { return e.err }

// New constructs a kind-tagged error with a message.
func New(kind Kind, msg string) *BuckyError {
	return &BuckyError{kind: kind, msg: msg}
}

// Newf constructs a kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *BuckyError {
	return &BuckyError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, msg string, err error) *BuckyError {
	return &BuckyError{kind: kind, msg: msg, err: err}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf extracts the Kind from err, or Unknown if err is not a *BuckyError.
func KindOf(err error) Kind {
	var be *BuckyError
	if err == nil {
		return Unknown
	}
	if asBuckyError(err, &be) {
		return be.kind
	}
	return Unknown
}

func asBuckyError(err error, target **BuckyError) bool {
	for err != nil {
		if be, ok := err.(*BuckyError); ok {
			*target = be
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
