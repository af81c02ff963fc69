package control

import (
	"golang.org/x/sys/unix"
)

func RoutingMark(mark int) Func {
	return func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, mark)
	}
}
