package stream

import (
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/reactor"
)

// Stream is a duplex stream over one handle. End shuts down the write
// direction only. The handle is closed when the read side reaches end of
// stream after End, or on Close.
type Stream struct {
	*ReadableStream
	*WritableStream
	socket *Socket
}

func NewStream(r reactor.Reactor, fd int, options ...Option) (*Stream, error) {
	socket, err := NewSocket(fd)
	if err != nil {
		return nil, err
	}
	o := newOptions(options)
	readable, err := newReadableStream(r, socket, o)
	if err != nil {
		return nil, err
	}
	writable, err := newWritableStream(r, socket, o)
	if err != nil {
		readable.access.Lock()
		readable.free()
		readable.access.Unlock()
		return nil, err
	}
	return &Stream{
		ReadableStream: readable,
		WritableStream: writable,
		socket:         socket,
	}, nil
}

func (s *Stream) IsOpen() bool {
	return s.socket.IsOpen()
}

func (s *Stream) LocalAddress() string {
	address, _ := s.socket.LocalAddr()
	return address
}

func (s *Stream) LocalPort() int {
	_, port := s.socket.LocalAddr()
	return port
}

func (s *Stream) RemoteAddress() string {
	address, _ := s.socket.RemoteAddr()
	return address
}

func (s *Stream) RemotePort() int {
	_, port := s.socket.RemoteAddr()
	return port
}

// Rebind moves whichever sides are still active to r.
func (s *Stream) Rebind(r reactor.Reactor) error {
	if !s.socket.IsOpen() {
		return E.Unavailable("the stream is closed")
	}
	err := s.ReadableStream.Rebind(r)
	if err != nil && !E.IsUnavailable(err) {
		return err
	}
	err = s.WritableStream.Rebind(r)
	if err != nil && !E.IsUnavailable(err) {
		return err
	}
	return nil
}

func (s *Stream) Close() error {
	return s.socket.closeWithError(nil)
}

func (s *Stream) CloseWithError(err error) error {
	return s.socket.closeWithError(err)
}
