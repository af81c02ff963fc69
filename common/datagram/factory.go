package datagram

import (
	"github.com/sagernet/sing-socket/common/control"
	E "github.com/sagernet/sing-socket/common/exceptions"
	M "github.com/sagernet/sing-socket/common/metadata"
	"github.com/sagernet/sing-socket/common/reactor"

	"golang.org/x/sys/unix"
)

// Create binds a new datagram socket to host and port. Port 0 picks an
// ephemeral port and port -1 binds the unix socket path host.
func Create(r reactor.Reactor, host string, port int, options ...Option) (*Datagram, error) {
	o := newOptions(options)
	sa, err := M.ResolveSockaddr(host, port)
	if err != nil {
		return nil, E.InvalidArgument(err)
	}
	fd, err := unix.Socket(M.SockaddrFamily(sa), unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, E.Failure(err, "create datagram socket")
	}
	err = control.Apply(fd, o.controls...)
	if err != nil {
		unix.Close(fd)
		return nil, E.Failure(err, "configure socket")
	}
	err = unix.Bind(fd, sa)
	if err != nil {
		unix.Close(fd)
		return nil, E.Failure(err, "bind ", M.MakeName(host, port))
	}
	return newDatagram(r, fd, o)
}

// New wraps an already bound datagram socket.
func New(r reactor.Reactor, fd int, options ...Option) (*Datagram, error) {
	err := unix.SetNonblock(fd, true)
	if err != nil {
		return nil, E.Failure(err, "set non-blocking")
	}
	return newDatagram(r, fd, newOptions(options))
}
