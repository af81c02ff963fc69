package control

import (
	"golang.org/x/sys/unix"
)

// ReuseAddr sets SO_REUSEADDR and, where the family supports it, SO_REUSEPORT.
func ReuseAddr() Func {
	return func(fd int) error {
		err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if err != nil {
			return err
		}
		err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		if err == unix.EOPNOTSUPP || err == unix.ENOPROTOOPT {
			return nil
		}
		return err
	}
}
