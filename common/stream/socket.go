package stream

import (
	"sync"

	E "github.com/sagernet/sing-socket/common/exceptions"
	M "github.com/sagernet/sing-socket/common/metadata"

	"golang.org/x/sys/unix"
)

type side interface {
	detach(err error)
}

// Socket owns a non-blocking handle shared by the readable and writable side
// of a stream. The handle is closed once every side has finished on its own,
// or immediately by closeWithError.
type Socket struct {
	fd     int
	access sync.Mutex
	closed bool
	sides  []side
	open   int
}

func NewSocket(fd int) (*Socket, error) {
	err := unix.SetNonblock(fd, true)
	if err != nil {
		return nil, E.Failure(err, "set non-blocking")
	}
	return &Socket{fd: fd}, nil
}

func (s *Socket) FD() int {
	return s.fd
}

func (s *Socket) IsOpen() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return !s.closed
}

func (s *Socket) LocalAddr() (address string, port int) {
	s.access.Lock()
	defer s.access.Unlock()
	if s.closed {
		return "", 0
	}
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return "", 0
	}
	return M.NameFromSockaddr(sa)
}

func (s *Socket) RemoteAddr() (address string, port int) {
	s.access.Lock()
	defer s.access.Unlock()
	if s.closed {
		return "", 0
	}
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return "", 0
	}
	return M.NameFromSockaddr(sa)
}

func (s *Socket) attach(it side) {
	s.access.Lock()
	defer s.access.Unlock()
	s.sides = append(s.sides, it)
	s.open++
}

// release marks one side as finished. The last release closes the handle.
func (s *Socket) release() {
	s.access.Lock()
	if s.closed {
		s.access.Unlock()
		return
	}
	s.open--
	if s.open > 0 {
		s.access.Unlock()
		return
	}
	s.closed = true
	s.access.Unlock()
	unix.Close(s.fd)
}

func (s *Socket) shutdownWrite() {
	s.access.Lock()
	defer s.access.Unlock()
	if !s.closed {
		unix.Shutdown(s.fd, unix.SHUT_WR)
	}
}

// closeWithError fails whatever is pending on every side with err, or with a
// Closed error when err is nil, and closes the handle.
func (s *Socket) closeWithError(err error) error {
	s.access.Lock()
	if s.closed {
		s.access.Unlock()
		return nil
	}
	s.closed = true
	sides := s.sides
	s.access.Unlock()

	for _, it := range sides {
		it.detach(err)
	}
	return unix.Close(s.fd)
}
