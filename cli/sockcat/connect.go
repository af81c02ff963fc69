package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sagernet/sing-socket/common/buf"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/log"
	M "github.com/sagernet/sing-socket/common/metadata"
	"github.com/sagernet/sing-socket/common/stream"
	"github.com/sagernet/sing-socket/common/task"
	"github.com/sagernet/sing-socket/transport/tcp"

	"github.com/spf13/cobra"
)

func newConnectCommand(f *flags) *cobra.Command {
	var options tcp.ConnectOptions
	var connectTimeout float64
	command := &cobra.Command{
		Use:   "connect <address> <port>",
		Short: "Connect stdin and stdout to a TCP or unix socket.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return E.Cause(err, "parse port")
			}
			options.Timeout = time.Duration(connectTimeout * float64(time.Second))
			return runConnect(f, args[0], port, options)
		},
	}
	command.Flags().StringVar(&options.Protocol, "protocol", "tcp", "Set the protocol: tcp or unix.")
	command.Flags().Float64Var(&connectTimeout, "connect-timeout", 10, "Set the connect timeout in seconds.")
	command.Flags().BoolVar(&options.FastOpen, "fast-open", false, "Enable TCP fast open.")
	command.Flags().StringVar(&options.CAFile, "ca-file", "", "Set the certificate authority file.")
	return command
}

// writerSink adapts an io.Writer so a stream can be piped into it.
type writerSink struct {
	writer io.Writer
	ended  bool
}

func (s *writerSink) IsWritable() bool {
	return !s.ended
}

func (s *writerSink) Write(_ context.Context, data []byte) (int, error) {
	return s.writer.Write(data)
}

func (s *writerSink) End(context.Context) error {
	s.ended = true
	return nil
}

func runConnect(f *flags, address string, port int, options tcp.ConnectOptions) error {
	instance, err := newInstance(f)
	if err != nil {
		return err
	}
	defer instance.Close()
	logger := log.NewLogger("sockcat")

	connector := tcp.NewConnector(instance.reactor, f.tcpOptions(instance)...)
	conn, err := connector.Connect(instance.ctx, address, port, options)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Debug("connected to ", M.MakeName(conn.RemoteAddress(), conn.RemotePort()))

	pipeOptions := stream.PipeOptions{
		Timeout:   time.Duration(instance.config.Stream.ReadTimeout),
		RateLimit: instance.config.Stream.RateLimit,
	}
	err = task.Any(instance.ctx, func(ctx context.Context) error {
		err := copyInput(ctx, conn, os.Stdin)
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}, func(ctx context.Context) error {
		_, err := conn.Pipe(ctx, &writerSink{writer: os.Stdout}, pipeOptions)
		if E.IsUnavailable(err) {
			return nil
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// copyInput sends input to conn and ends the write direction at EOF.
func copyInput(ctx context.Context, conn *stream.Stream, input io.Reader) error {
	reader := bufio.NewReaderSize(input, buf.ChunkSize)
	chunk := make([]byte, buf.ChunkSize)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			_, writeErr := conn.Write(ctx, chunk[:n])
			if writeErr != nil {
				return E.Cause(writeErr, "send input")
			}
		}
		if err == io.EOF {
			return conn.End(ctx)
		}
		if err != nil {
			return E.Cause(err, "read input")
		}
	}
}
