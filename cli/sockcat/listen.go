package main

import (
	"context"
	"strconv"
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/log"
	M "github.com/sagernet/sing-socket/common/metadata"
	"github.com/sagernet/sing-socket/common/stream"
	"github.com/sagernet/sing-socket/transport/tcp"

	"github.com/spf13/cobra"
)

func newListenCommand(f *flags) *cobra.Command {
	var lines bool
	command := &cobra.Command{
		Use:   "listen <host> <port>",
		Short: "Run a TCP echo server. Port -1 listens on a unix socket path.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return E.Cause(err, "parse port")
			}
			return runListen(f, args[0], port, lines)
		},
	}
	command.Flags().BoolVar(&lines, "lines", false, "Echo one line at a time.")
	return command
}

type echoHandler struct {
	options stream.PipeOptions
	lines   bool
}

func (h *echoHandler) NewConnection(ctx context.Context, conn *stream.Stream) error {
	logger := log.NewLogger("echo")
	remote := M.MakeURI("tcp", conn.RemoteAddress(), conn.RemotePort())
	logger.Info("accepted ", remote)
	options := h.options
	if h.lines {
		options.Delimiter = []byte("\n")
		for conn.IsReadable() && conn.IsWritable() {
			n, err := conn.Pipe(ctx, conn, options)
			if err != nil {
				return err
			}
			logger.Debug("echoed line of ", n, " bytes to ", remote)
		}
		return conn.Close()
	}
	n, err := conn.Pipe(ctx, conn, options)
	if err != nil {
		return err
	}
	logger.Info("closed ", remote, " after ", n, " bytes")
	return nil
}

func (h *echoHandler) HandleError(err error) {
	logger := log.NewLogger("echo")
	if E.IsClosed(err) || E.IsTimeout(err) {
		logger.Debug(err)
	} else {
		logger.Error(err)
	}
	if connErr, isConnErr := E.Cast[*tcp.Error](err); isConnErr {
		connErr.Close()
	}
}

func runListen(f *flags, host string, port int, lines bool) error {
	instance, err := newInstance(f)
	if err != nil {
		return err
	}
	defer instance.Close()

	options := append(f.tcpOptions(instance), tcp.WithReuseAddr())
	server, err := tcp.Listen(instance.reactor, host, port, options...)
	if err != nil {
		return err
	}
	handler := &echoHandler{
		options: stream.PipeOptions{
			Timeout:   time.Duration(instance.config.Stream.ReadTimeout),
			RateLimit: instance.config.Stream.RateLimit,
		},
		lines: lines,
	}
	listener := tcp.NewListener(server, handler)
	listener.Start()
	log.NewLogger("sockcat").Info("listening on ", M.MakeURI("tcp", server.Address(), server.Port()))

	select {
	case <-instance.ctx.Done():
	case <-listener.Done():
	}
	return listener.Close()
}
