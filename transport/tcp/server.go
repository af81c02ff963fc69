package tcp

import (
	"context"
	"sync"

	"github.com/sagernet/sing-socket/common/control"
	E "github.com/sagernet/sing-socket/common/exceptions"
	M "github.com/sagernet/sing-socket/common/metadata"
	"github.com/sagernet/sing-socket/common/reactor"
	"github.com/sagernet/sing-socket/common/stream"

	"golang.org/x/sys/unix"
)

type acceptRequest struct {
	done chan acceptResult
}

type acceptResult struct {
	fd  int
	err error
}

// Server accepts connections on a listening socket. At most one Accept may
// be waiting at a time.
type Server struct {
	fd      int
	reactor reactor.Reactor
	options options
	address string
	port    int
	path    string

	access  sync.Mutex
	poll    reactor.Watcher
	pending *acceptRequest
	closed  bool
}

// Listen binds host and port and starts listening. Port -1 listens on the
// unix socket path host, which is removed again on Close.
func Listen(r reactor.Reactor, host string, port int, options ...Option) (*Server, error) {
	o := newOptions(options)
	name := M.MakeName(host, port)
	sa, err := M.ResolveSockaddr(host, port)
	if err != nil {
		return nil, E.InvalidArgument(err)
	}
	family := M.SockaddrFamily(sa)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, E.Failure(err, "create socket")
	}
	err = configure(fd, family, o)
	if err == nil {
		err = unix.Bind(fd, sa)
		if err != nil {
			err = E.Failure(err, "bind ", name)
		}
	}
	if err == nil {
		err = unix.Listen(fd, o.backlog)
		if err != nil {
			err = E.Failure(err, "listen on ", name)
		}
	}
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, E.Failure(err, "read bound address")
	}
	s := &Server{
		fd:      fd,
		reactor: r,
		options: o,
	}
	s.address, s.port = M.NameFromSockaddr(bound)
	if family == unix.AF_UNIX {
		s.path = host
	}
	s.poll, err = r.Poll(fd, s.onReadable)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	o.logger.Debug("listening on ", M.MakeName(s.address, s.port))
	return s, nil
}

func configure(fd int, family int, o options) error {
	err := control.Apply(fd, o.controls...)
	if err != nil {
		return E.Failure(err, "configure socket")
	}
	if o.fastOpen > 0 && family != unix.AF_UNIX {
		err = setFastOpen(fd, o.fastOpen)
		if err != nil {
			return E.Failure(err, "enable fast open")
		}
	}
	return nil
}

func (s *Server) Address() string {
	return s.address
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) IsOpen() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return !s.closed
}

// Accept waits for the next connection and returns it as a duplex stream.
func (s *Server) Accept(ctx context.Context) (*stream.Stream, error) {
	s.access.Lock()
	if s.pending != nil {
		s.access.Unlock()
		return nil, E.Busy("already waiting on server")
	}
	if s.closed {
		s.access.Unlock()
		return nil, E.Unavailable("the server is closed")
	}
	if ctx.Err() != nil {
		s.access.Unlock()
		return nil, context.Cause(ctx)
	}

	fd, err := s.accept()
	if err == nil {
		s.access.Unlock()
		return s.newStream(fd)
	}
	if err != unix.EAGAIN && err != unix.ECONNABORTED && err != unix.EINTR {
		s.access.Unlock()
		return nil, E.Failure(err, "accept")
	}

	request := &acceptRequest{
		done: make(chan acceptResult, 1),
	}
	err = s.poll.Listen(0)
	if err != nil {
		s.access.Unlock()
		return nil, E.Failure(err, "listen for accept")
	}
	s.pending = request
	s.access.Unlock()

	var result acceptResult
	select {
	case result = <-request.done:
	case <-ctx.Done():
		s.cancel(request, context.Cause(ctx))
		result = <-request.done
	}
	if result.err != nil {
		return nil, result.err
	}
	return s.newStream(result.fd)
}

func (s *Server) accept() (int, error) {
	fd, _, err := unix.Accept(s.fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

func (s *Server) newStream(fd int) (*stream.Stream, error) {
	conn, err := stream.NewStream(s.reactor, fd, s.options.streamOptions...)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return conn, nil
}

func (s *Server) onReadable(bool) {
	s.access.Lock()
	defer s.access.Unlock()
	request := s.pending
	if request == nil || s.closed {
		return
	}
	fd, err := s.accept()
	switch {
	case err == nil:
		s.resolve(request, fd, nil)
	case err == unix.EAGAIN || err == unix.ECONNABORTED || err == unix.EINTR:
		err = s.poll.Listen(0)
		if err != nil {
			s.resolve(request, -1, E.Failure(err, "listen for accept"))
		}
	default:
		failure := E.Failure(err, "accept")
		s.options.logger.Debug(failure)
		s.resolve(request, -1, failure)
	}
}

func (s *Server) resolve(request *acceptRequest, fd int, err error) {
	if s.pending == request {
		s.pending = nil
	}
	request.done <- acceptResult{fd, err}
}

func (s *Server) cancel(request *acceptRequest, reason error) {
	s.access.Lock()
	defer s.access.Unlock()
	if s.pending != request {
		return
	}
	s.poll.Cancel()
	s.resolve(request, -1, reason)
}

// Close stops listening and fails a waiting Accept with a Closed error.
func (s *Server) Close() error {
	s.access.Lock()
	defer s.access.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pending != nil {
		s.resolve(s.pending, -1, E.Closed("the server was closed"))
	}
	s.poll.Free()
	err := unix.Close(s.fd)
	if s.path != "" {
		unix.Unlink(s.path)
	}
	return err
}
