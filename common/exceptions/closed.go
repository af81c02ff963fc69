package exceptions

import (
	"errors"
	"io"
	"net"
	"syscall"
)

func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

type Handler interface {
	HandleError(err error)
}
