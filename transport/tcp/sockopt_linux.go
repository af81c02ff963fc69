package tcp

import (
	"golang.org/x/sys/unix"
)

const tcpFastOpenConnect = 30

func setFastOpen(fd int, queue int) error {
	return unix.SetsockoptInt(fd, unix.SOL_TCP, unix.TCP_FASTOPEN, queue)
}

func setFastOpenConnect(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_TCP, tcpFastOpenConnect, 1)
}
