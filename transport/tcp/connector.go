package tcp

import (
	"context"
	"os"

	"github.com/sagernet/sing-socket/common/control"
	E "github.com/sagernet/sing-socket/common/exceptions"
	M "github.com/sagernet/sing-socket/common/metadata"
	"github.com/sagernet/sing-socket/common/reactor"
	"github.com/sagernet/sing-socket/common/stream"

	"golang.org/x/sys/unix"
)

type Connector struct {
	reactor reactor.Reactor
	options options
}

func NewConnector(r reactor.Reactor, options ...Option) *Connector {
	return &Connector{
		reactor: r,
		options: newOptions(options),
	}
}

// Connect opens a stream to address and port. Setup fails with a TimedOut
// error once options.Timeout elapses and with a Failure when the peer
// refuses or the OS rejects the attempt.
func (c *Connector) Connect(ctx context.Context, address string, port int, options ConnectOptions) (*stream.Stream, error) {
	switch options.Protocol {
	case "", "tcp":
	case "unix":
		port = -1
	default:
		return nil, E.InvalidArgument("unsupported protocol: ", options.Protocol)
	}
	if options.CAFile != "" {
		if _, err := os.Stat(options.CAFile); err != nil {
			return nil, E.InvalidArgument("no file found at ", options.CAFile)
		}
	}
	if options.VerifyDepth < 0 {
		return nil, E.InvalidArgument("negative verify depth: ", options.VerifyDepth)
	}
	if options.Timeout < 0 {
		return nil, E.InvalidArgument("negative connect timeout: ", options.Timeout)
	}
	if options.Timeout == 0 {
		options.Timeout = DefaultConnectTimeout
	}

	name := M.MakeName(address, port)
	sa, err := M.ResolveSockaddr(address, port)
	if err != nil {
		return nil, E.Failure(err, "resolve ", name)
	}
	family := M.SockaddrFamily(sa)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, E.Failure(err, "create socket")
	}
	err = control.Apply(fd, c.options.controls...)
	if err != nil {
		unix.Close(fd)
		return nil, E.Failure(err, "configure socket")
	}
	if options.FastOpen && family != unix.AF_UNIX {
		err = setFastOpenConnect(fd)
		if err != nil {
			unix.Close(fd)
			return nil, E.Failure(err, "enable fast open")
		}
	}

	err = unix.Connect(fd, sa)
	if err == unix.EINPROGRESS || err == unix.EAGAIN || err == unix.EINTR {
		err = c.wait(ctx, fd, name, options)
	} else if err != nil {
		err = E.Failure(err, "connect to ", name)
	}
	if err != nil {
		unix.Close(fd)
		c.options.logger.Debug(err)
		return nil, err
	}
	conn, err := stream.NewStream(c.reactor, fd, c.options.streamOptions...)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return conn, nil
}

func (c *Connector) wait(ctx context.Context, fd int, name string, options ConnectOptions) error {
	done := make(chan bool, 1)
	await, err := c.reactor.Await(fd, func(expired bool) {
		done <- expired
	})
	if err != nil {
		return err
	}
	defer await.Free()
	err = await.Listen(options.Timeout)
	if err != nil {
		return E.Failure(err, "listen for connect")
	}

	select {
	case expired := <-done:
		if expired {
			return E.TimedOut("connection to ", name, " timed out")
		}
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return E.Failure(err, "connect to ", name)
	}
	if errno != 0 {
		return E.Failure(unix.Errno(errno), "connect to ", name)
	}
	return nil
}
