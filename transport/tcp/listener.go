package tcp

import (
	"context"
	"errors"

	"github.com/sagernet/sing-socket/common"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/stream"
)

type Handler interface {
	NewConnection(ctx context.Context, conn *stream.Stream) error
	E.Handler
}

// Error is passed to HandleError when NewConnection fails, so the handler can
// decide whether to close the stream.
type Error struct {
	Conn  *stream.Stream
	Cause error
}

func (e *Error) Error() string {
	return e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Close() error {
	return common.Close(e.Conn)
}

// Listener runs an accept loop on a server, handing each connection to the
// handler on its own goroutine.
type Listener struct {
	server  *Server
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewListener(server *Server, handler Handler) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		server:  server,
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
	return l.server.Close()
}

// Done is closed once the accept loop has returned.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) loop() {
	defer close(l.done)
	for {
		conn, err := l.server.Accept(l.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, E.ErrClosed) && !E.IsUnavailable(err) {
				l.handler.HandleError(E.Cause(err, "tcp listener closed"))
			}
			l.Close()
			return
		}
		go func() {
			err := l.handler.NewConnection(l.ctx, conn)
			if err != nil {
				l.handler.HandleError(&Error{conn, err})
			}
		}()
	}
}
