package udp

import (
	"context"
	"errors"

	"github.com/sagernet/sing-socket/common/datagram"
	E "github.com/sagernet/sing-socket/common/exceptions"
)

// PacketWriter sends replies from the socket a packet arrived on.
type PacketWriter interface {
	Send(ctx context.Context, address string, port int, data []byte) (int, error)
}

type Handler interface {
	NewPacket(ctx context.Context, packet *datagram.Packet, writer PacketWriter) error
	E.Handler
}

// Listener runs a receive loop on a datagram socket. Packets are handled in
// arrival order on the loop goroutine.
type Listener struct {
	socket  *datagram.Datagram
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewListener(socket *datagram.Datagram, handler Handler) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		socket:  socket,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (l *Listener) Start() {
	go l.loop()
}

func (l *Listener) Close() error {
	if l == nil {
		return nil
	}
	l.cancel()
	return l.socket.Close()
}

// Done is closed once the receive loop has returned.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) loop() {
	defer close(l.done)
	for {
		packet, err := l.socket.Receive(l.ctx, 0, 0)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, E.ErrClosed) && !E.IsUnavailable(err) {
				l.handler.HandleError(E.Cause(err, "udp listener closed"))
			}
			l.Close()
			return
		}
		err = l.handler.NewPacket(l.ctx, packet, l.socket)
		if err != nil {
			l.handler.HandleError(E.Cause(err, "handle packet from ", packet.Address))
		}
	}
}
