package datagram

import (
	"context"
	"sync"
	"time"

	"github.com/sagernet/sing-socket/common"
	"github.com/sagernet/sing-socket/common/buf"
	E "github.com/sagernet/sing-socket/common/exceptions"
	M "github.com/sagernet/sing-socket/common/metadata"
	"github.com/sagernet/sing-socket/common/reactor"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type Packet struct {
	Address string
	Port    int
	Data    []byte
}

type receiveRequest struct {
	length   int
	deadline time.Time
	done     chan receiveResult
}

type receiveResult struct {
	packet *Packet
	err    error
}

type sendRequest struct {
	peer     unix.Sockaddr
	data     []byte
	written  int
	resolved bool
	done     chan sendResult
}

type sendResult struct {
	n   int
	err error
}

// Datagram receives one packet per Receive and queues sends that the OS
// cannot take immediately. At most one receive may be waiting at a time.
type Datagram struct {
	fd            int
	family        int
	logger        logrus.FieldLogger
	maxPacketSize int
	address       string
	port          int

	access  sync.Mutex
	poll    reactor.Watcher
	await   reactor.Watcher
	pending *receiveRequest
	queue   deque.Deque
	closed  bool
}

func newDatagram(r reactor.Reactor, fd int, o options) (*Datagram, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, E.Failure(err, "read bound address")
	}
	d := &Datagram{
		fd:            fd,
		family:        M.SockaddrFamily(sa),
		logger:        o.logger,
		maxPacketSize: o.maxPacketSize,
	}
	d.address, d.port = M.NameFromSockaddr(sa)
	err = d.watch(r)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return d, nil
}

func (d *Datagram) watch(r reactor.Reactor) error {
	poll, err := r.Poll(d.fd, d.onReadable)
	if err != nil {
		return err
	}
	await, err := r.Await(d.fd, d.onWritable)
	if err != nil {
		poll.Free()
		return err
	}
	d.poll = poll
	d.await = await
	return nil
}

func (d *Datagram) Address() string {
	return d.address
}

func (d *Datagram) Port() int {
	return d.port
}

func (d *Datagram) IsOpen() bool {
	d.access.Lock()
	defer d.access.Unlock()
	return !d.closed
}

// Receive returns the next packet, truncated to length bytes. Length 0 uses
// the maximum packet size.
func (d *Datagram) Receive(ctx context.Context, length int, timeout time.Duration) (*Packet, error) {
	if length < 0 {
		return nil, E.InvalidArgument("negative receive length: ", length)
	}
	if timeout < 0 {
		return nil, E.InvalidArgument("negative receive timeout: ", timeout)
	}
	if length == 0 {
		length = d.maxPacketSize
	}

	d.access.Lock()
	if d.pending != nil {
		d.access.Unlock()
		return nil, E.Busy("already waiting on datagram")
	}
	if d.closed {
		d.access.Unlock()
		return nil, E.Unavailable("the datagram is closed")
	}
	if ctx.Err() != nil {
		d.access.Unlock()
		return nil, context.Cause(ctx)
	}
	request := &receiveRequest{
		length: length,
		done:   make(chan receiveResult, 1),
	}
	if timeout > 0 {
		request.deadline = time.Now().Add(timeout)
	}
	err := d.poll.Listen(timeout)
	if err != nil {
		d.access.Unlock()
		return nil, E.Failure(err, "listen for receive")
	}
	d.pending = request
	d.access.Unlock()

	select {
	case result := <-request.done:
		return result.packet, result.err
	case <-ctx.Done():
		d.cancelReceive(request, context.Cause(ctx))
		result := <-request.done
		return result.packet, result.err
	}
}

func (d *Datagram) onReadable(expired bool) {
	d.access.Lock()
	request := d.pending
	if request == nil || d.closed {
		d.access.Unlock()
		return
	}
	if expired {
		d.listen(request)
		d.access.Unlock()
		return
	}

	buffer := buf.Get(request.length)
	defer buf.Put(buffer)
	n, from, err := unix.Recvfrom(d.fd, buffer, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			d.listen(request)
			d.access.Unlock()
			return
		}
		d.access.Unlock()
		failure := E.Failure(err, "receive datagram")
		d.CloseWithError(failure)
		return
	}
	packet := &Packet{
		Data: append([]byte(nil), buffer[:n]...),
	}
	packet.Address, packet.Port = M.NameFromSockaddr(from)
	d.resolveReceive(request, packet, nil)
	d.access.Unlock()
}

func (d *Datagram) listen(request *receiveRequest) {
	var timeout time.Duration
	if !request.deadline.IsZero() {
		timeout = time.Until(request.deadline)
		if timeout <= 0 {
			d.resolveReceive(request, nil, E.TimedOut("the datagram timed out"))
			return
		}
	}
	err := d.poll.Listen(timeout)
	if err != nil {
		d.resolveReceive(request, nil, E.Failure(err, "listen for receive"))
	}
}

func (d *Datagram) resolveReceive(request *receiveRequest, packet *Packet, err error) {
	if d.pending == request {
		d.pending = nil
	}
	request.done <- receiveResult{packet, err}
}

func (d *Datagram) cancelReceive(request *receiveRequest, reason error) {
	d.access.Lock()
	defer d.access.Unlock()
	if d.pending != request {
		return
	}
	d.poll.Cancel()
	d.resolveReceive(request, nil, reason)
}

// Send delivers data to address and port. Payloads above the maximum packet
// size go out as several packets. It returns once every byte has been handed
// to the OS.
func (d *Datagram) Send(ctx context.Context, address string, port int, data []byte) (int, error) {
	peer, err := M.ResolveSockaddrFamily(address, port, d.family)
	if err != nil {
		return 0, E.InvalidArgument(err)
	}

	d.access.Lock()
	if d.closed {
		d.access.Unlock()
		return 0, E.Unavailable("the datagram is closed")
	}
	if ctx.Err() != nil {
		d.access.Unlock()
		return 0, context.Cause(ctx)
	}

	var written int
	if d.front() == nil {
		if len(data) == 0 {
			d.access.Unlock()
			return 0, nil
		}
		n, err := d.send(peer, data)
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			d.access.Unlock()
			failure := E.Failure(err, "send datagram to ", M.MakeName(address, port))
			d.CloseWithError(failure)
			return 0, failure
		}
		if n > 0 {
			written = n
			data = data[n:]
		}
		if len(data) == 0 {
			d.access.Unlock()
			return written, nil
		}
	}

	request := &sendRequest{
		peer:    peer,
		data:    data,
		written: written,
		done:    make(chan sendResult, 1),
	}
	d.queue.PushBack(request)
	var failure error
	if !d.await.IsPending() {
		err = d.await.Listen(0)
		if err != nil {
			failure = E.Failure(err, "listen for send")
		}
	}
	d.access.Unlock()
	if failure != nil {
		d.CloseWithError(failure)
	}

	select {
	case result := <-request.done:
		return result.n, result.err
	case <-ctx.Done():
		d.cancelSend(request, context.Cause(ctx))
		result := <-request.done
		return result.n, result.err
	}
}

// send hands at most one packet to the OS.
func (d *Datagram) send(peer unix.Sockaddr, data []byte) (int, error) {
	data = data[:common.Min(len(data), d.maxPacketSize)]
	n, err := unix.SendmsgN(d.fd, data, nil, peer, 0)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (d *Datagram) onWritable(bool) {
	d.access.Lock()
	if d.closed {
		d.access.Unlock()
		return
	}

	request := d.front()
	if request != nil {
		if len(request.data) == 0 {
			d.queue.PopFront()
			d.resolveSend(request, request.written, nil)
		} else {
			n, err := d.send(request.peer, request.data)
			if err == nil && n == 0 {
				err = E.New("no bytes sent")
			}
			switch {
			case err == unix.EAGAIN || err == unix.EINTR:
			case err != nil:
				d.access.Unlock()
				failure := E.Failure(err, "send datagram")
				d.CloseWithError(failure)
				return
			default:
				request.data = request.data[n:]
				request.written += n
				if len(request.data) == 0 {
					d.queue.PopFront()
					d.resolveSend(request, request.written, nil)
				}
			}
		}
	}

	if d.front() != nil {
		err := d.await.Listen(0)
		if err != nil {
			d.access.Unlock()
			d.CloseWithError(E.Failure(err, "listen for send"))
			return
		}
	}
	d.access.Unlock()
}

func (d *Datagram) front() *sendRequest {
	for d.queue.Len() > 0 {
		request := d.queue.Front().(*sendRequest)
		if !request.resolved {
			return request
		}
		d.queue.PopFront()
	}
	return nil
}

func (d *Datagram) resolveSend(request *sendRequest, n int, err error) {
	if request.resolved {
		return
	}
	request.resolved = true
	request.done <- sendResult{n, err}
}

func (d *Datagram) cancelSend(request *sendRequest, reason error) {
	d.access.Lock()
	defer d.access.Unlock()
	d.resolveSend(request, request.written, reason)
}

// Rebind moves both watchers to r, keeping a waiting receive and queued
// sends in place.
func (d *Datagram) Rebind(r reactor.Reactor) error {
	d.access.Lock()
	if d.closed {
		d.access.Unlock()
		return E.Unavailable("the datagram is closed")
	}
	d.poll.Free()
	d.await.Free()
	err := d.watch(r)
	if err != nil {
		d.poll = nil
		d.await = nil
		d.access.Unlock()
		failure := E.Failure(err, "rebind datagram")
		d.CloseWithError(failure)
		return failure
	}
	if d.pending != nil {
		d.listen(d.pending)
	}
	if d.front() != nil {
		err = d.await.Listen(0)
	}
	d.access.Unlock()
	if err != nil {
		failure := E.Failure(err, "listen for send")
		d.CloseWithError(failure)
		return failure
	}
	return nil
}

// Close fails a waiting receive and every queued send with a Closed error.
func (d *Datagram) Close() error {
	return d.CloseWithError(nil)
}

func (d *Datagram) CloseWithError(err error) error {
	d.access.Lock()
	defer d.access.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err == nil {
		err = E.Closed("the datagram was unexpectedly closed")
	} else {
		d.logger.Debug("closed: ", err)
	}
	if d.pending != nil {
		d.resolveReceive(d.pending, nil, err)
	}
	for d.queue.Len() > 0 {
		request := d.queue.PopFront().(*sendRequest)
		d.resolveSend(request, request.written, err)
	}
	if d.poll != nil {
		d.poll.Free()
	}
	if d.await != nil {
		d.await.Free()
	}
	return unix.Close(d.fd)
}
