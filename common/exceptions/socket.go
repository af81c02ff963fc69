package exceptions

import (
	"errors"
	"fmt"
)

var (
	ErrBusy            = New("busy")
	ErrUnavailable     = New("unavailable")
	ErrUnwritable      = New("unwritable")
	ErrClosed          = New("closed")
	ErrTimeout         = New("timed out")
	ErrFailure         = New("failure")
	ErrInvalidArgument = New("invalid argument")
)

// SocketError carries one of the kinds above and, for failures, the OS error
// that produced it. errors.Is matches both.
type SocketError struct {
	Kind    error
	Message string
	Err     error
}

func (e *SocketError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *SocketError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func (e *SocketError) Timeout() bool {
	return e.Kind == ErrTimeout
}

func Busy(message ...any) error {
	return &SocketError{Kind: ErrBusy, Message: fmt.Sprint(message...)}
}

func Unavailable(message ...any) error {
	return &SocketError{Kind: ErrUnavailable, Message: fmt.Sprint(message...)}
}

func Unwritable(message ...any) error {
	return &SocketError{Kind: ErrUnwritable, Message: fmt.Sprint(message...)}
}

func Closed(message ...any) error {
	return &SocketError{Kind: ErrClosed, Message: fmt.Sprint(message...)}
}

func TimedOut(message ...any) error {
	return &SocketError{Kind: ErrTimeout, Message: fmt.Sprint(message...)}
}

func Failure(cause error, message ...any) error {
	return &SocketError{Kind: ErrFailure, Message: fmt.Sprint(message...), Err: cause}
}

func InvalidArgument(message ...any) error {
	return &SocketError{Kind: ErrInvalidArgument, Message: fmt.Sprint(message...)}
}

func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func IsFailure(err error) bool {
	return errors.Is(err, ErrFailure)
}
