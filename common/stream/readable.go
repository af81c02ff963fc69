package stream

import (
	"context"
	"sync"
	"time"

	"github.com/sagernet/sing-socket/common/buf"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/reactor"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type readRequest struct {
	length    int
	delimiter []byte
	deadline  time.Time
	done      chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ReadableStream serves buffered reads from a non-blocking handle. At most
// one read may be waiting at a time.
type ReadableStream struct {
	socket    *Socket
	logger    logrus.FieldLogger
	chunkSize int

	access   sync.Mutex
	reactor  reactor.Reactor
	poll     reactor.Watcher
	buffer   *buf.Buffer
	pending  *readRequest
	eof      bool
	readable bool
}

func NewReadableStream(r reactor.Reactor, fd int, options ...Option) (*ReadableStream, error) {
	socket, err := NewSocket(fd)
	if err != nil {
		return nil, err
	}
	return newReadableStream(r, socket, newOptions(options))
}

func newReadableStream(r reactor.Reactor, socket *Socket, o options) (*ReadableStream, error) {
	s := &ReadableStream{
		socket:    socket,
		logger:    o.logger,
		chunkSize: o.chunkSize,
		reactor:   r,
		buffer:    buf.New(),
		readable:  true,
	}
	poll, err := r.Poll(socket.fd, s.onReadable)
	if err != nil {
		return nil, err
	}
	s.poll = poll
	socket.attach(s)
	return s, nil
}

func (s *ReadableStream) IsReadable() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return s.readable
}

// Read returns up to length bytes, or everything available when length is 0.
// It waits only when nothing is buffered. An empty result with a nil error
// reports end of stream; it is returned once, after which the stream is no
// longer readable.
func (s *ReadableStream) Read(ctx context.Context, length int, timeout time.Duration) ([]byte, error) {
	return s.read(ctx, length, nil, timeout)
}

// ReadUntil returns the buffered bytes up to and including delimiter. It keeps
// reading until delimiter appears, length bytes (when non-zero) accumulate, or
// the stream ends. Bytes after the match stay buffered.
func (s *ReadableStream) ReadUntil(ctx context.Context, length int, delimiter []byte, timeout time.Duration) ([]byte, error) {
	return s.read(ctx, length, delimiter, timeout)
}

func (s *ReadableStream) read(ctx context.Context, length int, delimiter []byte, timeout time.Duration) ([]byte, error) {
	if length < 0 {
		return nil, E.InvalidArgument("negative read length: ", length)
	}
	if timeout < 0 {
		return nil, E.InvalidArgument("negative read timeout: ", timeout)
	}

	s.access.Lock()
	if s.pending != nil {
		s.access.Unlock()
		return nil, E.Busy("already waiting on stream")
	}
	if !s.readable {
		s.access.Unlock()
		return nil, E.Unavailable("the stream is no longer readable")
	}
	if ctx.Err() != nil {
		s.access.Unlock()
		return nil, context.Cause(ctx)
	}

	data, ready, ended := s.take(length, delimiter)
	if ready {
		s.access.Unlock()
		if ended {
			s.socket.release()
		}
		return data, nil
	}

	request := &readRequest{
		length:    length,
		delimiter: delimiter,
		done:      make(chan readResult, 1),
	}
	if timeout > 0 {
		request.deadline = time.Now().Add(timeout)
	}
	err := s.poll.Listen(timeout)
	if err != nil {
		s.access.Unlock()
		return nil, E.Failure(err, "listen for read")
	}
	s.pending = request
	s.access.Unlock()

	select {
	case result := <-request.done:
		return result.data, result.err
	case <-ctx.Done():
		s.cancel(request, context.Cause(ctx))
		result := <-request.done
		return result.data, result.err
	}
}

// take resolves a read from the buffer alone. ended reports that the end of
// stream was just delivered and the readable side has been released.
func (s *ReadableStream) take(length int, delimiter []byte) (data []byte, ready bool, ended bool) {
	if !s.buffer.IsEmpty() {
		if len(delimiter) == 0 {
			if length == 0 || length > s.buffer.Len() {
				length = s.buffer.Len()
			}
			return s.buffer.Next(length), true, false
		}
		if index := s.buffer.Index(delimiter); index != -1 {
			end := index + len(delimiter)
			if length == 0 || end <= length {
				return s.buffer.Next(end), true, false
			}
		}
		if length > 0 && s.buffer.Len() >= length {
			return s.buffer.Next(length), true, false
		}
		if s.eof {
			return s.buffer.Next(s.buffer.Len()), true, false
		}
		return nil, false, false
	}
	if s.eof {
		s.logger.Debug("end of stream")
		s.free()
		return nil, true, true
	}
	return nil, false, false
}

func (s *ReadableStream) onReadable(expired bool) {
	s.access.Lock()
	request := s.pending
	if request == nil || !s.readable {
		s.access.Unlock()
		return
	}

	if expired {
		s.listen(request)
		s.access.Unlock()
		return
	}

	n, err := s.fill()
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			s.listen(request)
			s.access.Unlock()
			return
		}
		s.access.Unlock()
		failure := E.Failure(err, "read from stream")
		s.logger.Debug(failure)
		s.socket.closeWithError(failure)
		return
	}
	if n == 0 {
		s.eof = true
	}

	data, ready, ended := s.take(request.length, request.delimiter)
	if !ready {
		s.listen(request)
		s.access.Unlock()
		return
	}
	s.resolve(request, data, nil)
	s.access.Unlock()
	if ended {
		s.socket.release()
	}
}

// listen re-arms the watcher for the remaining time of request, failing it
// with a timeout once its deadline has passed.
func (s *ReadableStream) listen(request *readRequest) {
	var timeout time.Duration
	if !request.deadline.IsZero() {
		timeout = time.Until(request.deadline)
		if timeout <= 0 {
			s.resolve(request, nil, E.TimedOut("the stream timed out"))
			return
		}
	}
	err := s.poll.Listen(timeout)
	if err != nil {
		s.resolve(request, nil, E.Failure(err, "listen for read"))
	}
}

func (s *ReadableStream) fill() (int, error) {
	free := s.buffer.FreeBytes(s.chunkSize)
	n, err := unix.Read(s.socket.fd, free[:s.chunkSize])
	if err != nil {
		return 0, err
	}
	s.buffer.Extend(n)
	return n, nil
}

func (s *ReadableStream) resolve(request *readRequest, data []byte, err error) {
	if s.pending == request {
		s.pending = nil
	}
	request.done <- readResult{data, err}
}

func (s *ReadableStream) cancel(request *readRequest, reason error) {
	s.access.Lock()
	defer s.access.Unlock()
	if s.pending != request {
		return
	}
	if s.poll != nil {
		s.poll.Cancel()
	}
	s.resolve(request, nil, reason)
}

// free drops the watcher and the buffer. Called with the lock held.
func (s *ReadableStream) free() {
	s.readable = false
	if s.poll != nil {
		s.poll.Free()
		s.poll = nil
	}
	s.buffer.Release()
}

func (s *ReadableStream) detach(err error) {
	s.access.Lock()
	defer s.access.Unlock()
	if s.pending != nil {
		if err == nil {
			err = E.Closed("the stream was unexpectedly closed")
		}
		s.resolve(s.pending, nil, err)
	}
	if s.readable {
		s.free()
	}
}

// Rebind moves the watcher to r, keeping a waiting read waiting.
func (s *ReadableStream) Rebind(r reactor.Reactor) error {
	s.access.Lock()
	if !s.readable {
		s.access.Unlock()
		return E.Unavailable("the stream is no longer readable")
	}
	s.poll.Free()
	s.poll = nil
	poll, err := r.Poll(s.socket.fd, s.onReadable)
	if err != nil {
		s.access.Unlock()
		failure := E.Failure(err, "rebind stream")
		s.socket.closeWithError(failure)
		return failure
	}
	s.reactor = r
	s.poll = poll
	if s.pending != nil {
		s.listen(s.pending)
	}
	s.access.Unlock()
	return nil
}

// Close fails a waiting read with a Closed error and closes the handle.
// Buffered bytes are discarded.
func (s *ReadableStream) Close() error {
	return s.socket.closeWithError(nil)
}

// CloseWithError is Close with err as the failure of a waiting read.
func (s *ReadableStream) CloseWithError(err error) error {
	return s.socket.closeWithError(err)
}
