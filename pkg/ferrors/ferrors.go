// Package ferrors defines the error-kind taxonomy shared by the
// storage service, the network reactor and the client runtime. Giving
// every layer one shared sentinel set lets each compare against a
// small fixed taxonomy instead of inspecting error strings.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of a small, fixed set of
// categories every layer agrees on.
type Kind int

const (
	KindNone Kind = iota
	KindFrameError
	KindNotFound
	KindAlreadyExists
	KindQuotaOrNoSpace
	KindIOError
	KindConnectionFailed
	KindConnectTimeout
	KindNetworkTimeout
	KindProtocolMismatch
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindFrameError:
		return "FrameError"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindQuotaOrNoSpace:
		return "QuotaOrNoSpace"
	case KindIOError:
		return "IOError"
	case KindConnectionFailed:
		return "ConnectionFailed"
	case KindConnectTimeout:
		return "ConnectTimeout"
	case KindNetworkTimeout:
		return "NetworkTimeout"
	case KindProtocolMismatch:
		return "ProtocolMismatch"
	case KindCancelled:
		return "Cancelled"
	default:
		return "None"
	}
}

// Retryable reports whether the client runtime should retry an
// operation that failed with this kind ("Retryable?" column).
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectionFailed, KindConnectTimeout, KindNetworkTimeout:
		return true
	default:
		return false
	}
}

// Errno is the wire status byte a storage handler reports for this
// kind, reusing the POSIX errno values FastDFS itself places in the
// status byte so the numbers remain meaningful off the wire.
func (k Kind) Errno() byte {
	switch k {
	case KindNone:
		return 0
	case KindNotFound:
		return 2 // ENOENT
	case KindAlreadyExists:
		return 17 // EEXIST
	case KindQuotaOrNoSpace:
		return 28 // ENOSPC
	case KindIOError:
		return 5 // EIO
	case KindFrameError, KindProtocolMismatch:
		return 22 // EINVAL
	case KindCancelled:
		return 125 // ECANCELED
	default:
		return 5 // EIO as a catch-all for network-layer kinds that never reach the wire status byte
	}
}

// KindFromErrno maps a wire status byte back to a Kind, the inverse of
// Errno, for the client runtime to classify a non-OK response it
// reads off the wire.
func KindFromErrno(status byte) Kind {
	switch status {
	case 0:
		return KindNone
	case 2:
		return KindNotFound
	case 17:
		return KindAlreadyExists
	case 28:
		return KindQuotaOrNoSpace
	case 22:
		return KindFrameError
	case 125:
		return KindCancelled
	default:
		return KindIOError
	}
}

// Error wraps an underlying error with a Kind and an operation label,
// supporting IsRetryable()-style checks against the Kind alone.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a *Error of the given kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, or KindNone if err is not (or does
// not wrap) a *Error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNone
}

// Is reports whether err is, or wraps, a *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the client runtime should retry err.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
