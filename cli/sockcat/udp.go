package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sagernet/sing-socket/common/datagram"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/log"
	M "github.com/sagernet/sing-socket/common/metadata"
	"github.com/sagernet/sing-socket/transport/udp"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newUDPEchoCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "udp-echo <host> <port>",
		Short: "Echo every datagram back to its sender.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return E.Cause(err, "parse port")
			}
			return runUDPEcho(f, args[0], port)
		},
	}
}

type udpEchoHandler struct {
	logger logrus.FieldLogger
}

func (h *udpEchoHandler) NewPacket(ctx context.Context, packet *datagram.Packet, writer udp.PacketWriter) error {
	h.logger.Debug("echo ", len(packet.Data), " bytes to ", M.MakeName(packet.Address, packet.Port))
	_, err := writer.Send(ctx, packet.Address, packet.Port, packet.Data)
	return err
}

func (h *udpEchoHandler) HandleError(err error) {
	h.logger.Error(err)
}

func runUDPEcho(f *flags, host string, port int) error {
	instance, err := newInstance(f)
	if err != nil {
		return err
	}
	defer instance.Close()
	logger := log.NewLogger("udp-echo")

	options := append(instance.config.DatagramOptions(), datagram.WithControl(f.controls()...))
	socket, err := datagram.Create(instance.reactor, host, port, options...)
	if err != nil {
		return err
	}
	listener := udp.NewListener(socket, &udpEchoHandler{logger})
	listener.Start()
	logger.Info("listening on ", M.MakeURI("udp", socket.Address(), socket.Port()))

	select {
	case <-instance.ctx.Done():
	case <-listener.Done():
	}
	return listener.Close()
}

func newUDPSendCommand(f *flags) *cobra.Command {
	var wait bool
	command := &cobra.Command{
		Use:   "udp-send <address> <port> <message>",
		Short: "Send one datagram and optionally print the reply.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				return E.Cause(err, "parse port")
			}
			return runUDPSend(cmd, f, args[0], port, args[2], wait)
		},
	}
	command.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for a reply.")
	return command
}

func runUDPSend(cmd *cobra.Command, f *flags, address string, port int, message string, wait bool) error {
	instance, err := newInstance(f)
	if err != nil {
		return err
	}
	defer instance.Close()

	if port == -1 {
		return E.New("unix datagram sockets need a bound path, use udp-echo on both ends")
	}
	host := "0.0.0.0"
	if strings.Contains(address, ":") {
		host = "::"
	}
	options := append(instance.config.DatagramOptions(), datagram.WithControl(f.controls()...))
	socket, err := datagram.Create(instance.reactor, host, 0, options...)
	if err != nil {
		return err
	}
	defer socket.Close()

	_, err = socket.Send(instance.ctx, address, port, []byte(message))
	if err != nil || !wait {
		return err
	}
	timeout := time.Duration(instance.config.Stream.ReadTimeout)
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	packet, err := socket.Receive(instance.ctx, 0, timeout)
	if err != nil {
		return err
	}
	cmd.Println(string(packet.Data))
	return nil
}
