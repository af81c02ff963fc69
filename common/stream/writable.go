package stream

import (
	"context"
	"sync"

	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/reactor"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type writeRequest struct {
	data     []byte
	written  int
	resolved bool
	done     chan writeResult
}

type writeResult struct {
	n   int
	err error
}

// WritableStream writes to a non-blocking handle. Writes that cannot complete
// immediately are queued and finished in order as the handle becomes
// writable.
type WritableStream struct {
	socket *Socket
	logger logrus.FieldLogger

	access   sync.Mutex
	await    reactor.Watcher
	queue    deque.Deque
	writable bool
	detached bool
	ending   chan error
}

func NewWritableStream(r reactor.Reactor, fd int, options ...Option) (*WritableStream, error) {
	socket, err := NewSocket(fd)
	if err != nil {
		return nil, err
	}
	return newWritableStream(r, socket, newOptions(options))
}

func newWritableStream(r reactor.Reactor, socket *Socket, o options) (*WritableStream, error) {
	s := &WritableStream{
		socket:   socket,
		logger:   o.logger,
		writable: true,
	}
	await, err := r.Await(socket.fd, s.onWritable)
	if err != nil {
		return nil, err
	}
	s.await = await
	socket.attach(s)
	return s, nil
}

func (s *WritableStream) IsWritable() bool {
	s.access.Lock()
	defer s.access.Unlock()
	return s.writable
}

// Write returns once all of data has been handed to the OS. Writes complete
// in the order they were issued.
func (s *WritableStream) Write(ctx context.Context, data []byte) (int, error) {
	s.access.Lock()
	if !s.writable {
		s.access.Unlock()
		return 0, E.Unavailable("the stream is no longer writable")
	}
	if ctx.Err() != nil {
		s.access.Unlock()
		return 0, context.Cause(ctx)
	}

	var written int
	if s.front() == nil {
		if len(data) == 0 {
			s.access.Unlock()
			return 0, nil
		}
		n, err := unix.Write(s.socket.fd, data)
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			s.access.Unlock()
			failure := E.Failure(err, "write to stream")
			s.logger.Debug(failure)
			s.socket.closeWithError(failure)
			return 0, failure
		}
		if n == len(data) {
			s.access.Unlock()
			return n, nil
		}
		if n > 0 {
			written = n
			data = data[n:]
		}
	}

	request := &writeRequest{
		data:    data,
		written: written,
		done:    make(chan writeResult, 1),
	}
	s.queue.PushBack(request)
	var failure error
	if !s.await.IsPending() {
		err := s.await.Listen(0)
		if err != nil {
			failure = E.Failure(err, "listen for write")
		}
	}
	s.access.Unlock()
	if failure != nil {
		s.socket.closeWithError(failure)
	}

	select {
	case result := <-request.done:
		return result.n, result.err
	case <-ctx.Done():
		s.cancel(request, context.Cause(ctx))
		result := <-request.done
		return result.n, result.err
	}
}

func (s *WritableStream) onWritable(bool) {
	s.access.Lock()
	if s.detached {
		s.access.Unlock()
		return
	}

	request := s.front()
	if request != nil {
		if len(request.data) == 0 {
			s.queue.PopFront()
			s.resolve(request, request.written, nil)
		} else {
			n, err := unix.Write(s.socket.fd, request.data)
			switch {
			case err == unix.EAGAIN || err == unix.EINTR:
			case err != nil:
				s.access.Unlock()
				failure := E.Failure(err, "write to stream")
				s.logger.Debug(failure)
				s.socket.closeWithError(failure)
				return
			case n < len(request.data):
				request.data = request.data[n:]
				request.written += n
			default:
				s.queue.PopFront()
				s.resolve(request, request.written+n, nil)
			}
		}
	}

	if s.front() != nil {
		err := s.await.Listen(0)
		if err != nil {
			s.access.Unlock()
			s.socket.closeWithError(E.Failure(err, "listen for write"))
			return
		}
		s.access.Unlock()
		return
	}

	ending := s.ending
	s.ending = nil
	s.access.Unlock()
	if ending != nil {
		s.shutdown()
		ending <- nil
	}
}

// front drops canceled requests from the head of the queue and returns the
// first one still waiting.
func (s *WritableStream) front() *writeRequest {
	for s.queue.Len() > 0 {
		request := s.queue.Front().(*writeRequest)
		if !request.resolved {
			return request
		}
		s.queue.PopFront()
	}
	return nil
}

func (s *WritableStream) resolve(request *writeRequest, n int, err error) {
	if request.resolved {
		return
	}
	request.resolved = true
	request.done <- writeResult{n, err}
}

func (s *WritableStream) cancel(request *writeRequest, reason error) {
	s.access.Lock()
	defer s.access.Unlock()
	s.resolve(request, request.written, reason)
	// a pending End finishes from the next writable notification
	if s.front() == nil && s.ending == nil && !s.detached {
		s.await.Cancel()
	}
}

// End waits for queued writes to finish, then shuts down the write direction.
// The stream is no longer writable once End is called.
func (s *WritableStream) End(ctx context.Context) error {
	s.access.Lock()
	if !s.writable {
		s.access.Unlock()
		return E.Unavailable("the stream is no longer writable")
	}
	s.writable = false
	if s.front() == nil {
		s.access.Unlock()
		s.shutdown()
		return nil
	}
	done := make(chan error, 1)
	s.ending = done
	s.access.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (s *WritableStream) shutdown() {
	s.access.Lock()
	if s.detached {
		s.access.Unlock()
		return
	}
	s.detached = true
	s.await.Free()
	s.access.Unlock()
	s.socket.shutdownWrite()
	s.socket.release()
}

func (s *WritableStream) detach(err error) {
	s.access.Lock()
	defer s.access.Unlock()
	if err == nil {
		err = E.Closed("the stream was unexpectedly closed")
	}
	s.writable = false
	for s.queue.Len() > 0 {
		request := s.queue.PopFront().(*writeRequest)
		s.resolve(request, request.written, err)
	}
	if s.ending != nil {
		s.ending <- err
		s.ending = nil
	}
	if !s.detached {
		s.detached = true
		s.await.Free()
	}
}

// Rebind moves the watcher to r, keeping queued writes queued.
func (s *WritableStream) Rebind(r reactor.Reactor) error {
	s.access.Lock()
	if s.detached {
		s.access.Unlock()
		return E.Unavailable("the stream is no longer writable")
	}
	s.await.Free()
	await, err := r.Await(s.socket.fd, s.onWritable)
	if err != nil {
		s.detached = true
		s.access.Unlock()
		failure := E.Failure(err, "rebind stream")
		s.socket.closeWithError(failure)
		return failure
	}
	s.await = await
	if s.queue.Len() > 0 {
		err = s.await.Listen(0)
	}
	s.access.Unlock()
	if err != nil {
		failure := E.Failure(err, "listen for write")
		s.socket.closeWithError(failure)
		return failure
	}
	return nil
}

func (s *WritableStream) Close() error {
	return s.socket.closeWithError(nil)
}

func (s *WritableStream) CloseWithError(err error) error {
	return s.socket.closeWithError(err)
}
