package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	socket "github.com/sagernet/sing-socket"
	"github.com/sagernet/sing-socket/common/control"
	"github.com/sagernet/sing-socket/common/log"
	"github.com/sagernet/sing-socket/common/reactor"
	"github.com/sagernet/sing-socket/conf"
	"github.com/sagernet/sing-socket/transport/tcp"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type flags struct {
	ConfigFile  string
	LogLevel    string
	Timeout     float64
	RateLimit   float64
	Interface   string
	RoutingMark int
	KeepAlive   time.Duration
}

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:     "sockcat",
		Short:   "async socket swiss army knife",
		Version: socket.Version,
	}
	command.PersistentFlags().StringVarP(&f.ConfigFile, "config", "c", "", "Use a configuration file.")
	command.PersistentFlags().StringVar(&f.LogLevel, "log-level", "", "Set the log level.")
	command.PersistentFlags().Float64VarP(&f.Timeout, "timeout", "t", 0, "Set the read timeout in seconds.")
	command.PersistentFlags().Float64Var(&f.RateLimit, "rate-limit", 0, "Limit piped throughput in bytes per second.")
	command.PersistentFlags().StringVar(&f.Interface, "interface", "", "Bind sockets to a network interface.")
	command.PersistentFlags().IntVar(&f.RoutingMark, "routing-mark", 0, "Set the routing mark of sockets.")
	command.PersistentFlags().DurationVar(&f.KeepAlive, "keep-alive", 0, "Enable TCP keep-alive with this idle period.")

	command.AddCommand(
		newListenCommand(f),
		newConnectCommand(f),
		newUDPEchoCommand(f),
		newUDPSendCommand(f),
	)

	err := command.Execute()
	if err != nil {
		logrus.Fatal(err)
	}
}

type instance struct {
	config  *conf.Config
	reactor *reactor.EpollReactor
	ctx     context.Context
	cancel  context.CancelFunc
}

// newInstance merges the configuration file with the command line and starts
// a reactor that lives until SIGINT or SIGTERM.
func newInstance(f *flags) (*instance, error) {
	config := new(conf.Config)
	if f.ConfigFile != "" {
		var err error
		config, err = conf.Load(f.ConfigFile)
		if err != nil {
			return nil, err
		}
	}
	if f.LogLevel != "" {
		config.Log.Level = f.LogLevel
	}
	if f.Timeout > 0 {
		config.Stream.ReadTimeout = conf.Duration(f.Timeout * float64(time.Second))
	}
	if f.RateLimit > 0 {
		config.Stream.RateLimit = f.RateLimit
	}
	err := log.SetLevel(config.Log.Level)
	if err != nil {
		return nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	r, err := reactor.NewEpollReactor(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	return &instance{
		config:  config,
		reactor: r,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (f *flags) controls() []control.Func {
	var controls []control.Func
	if f.Interface != "" {
		controls = append(controls, control.BindToInterface(f.Interface))
	}
	if f.RoutingMark != 0 {
		controls = append(controls, control.RoutingMark(f.RoutingMark))
	}
	return controls
}

func (f *flags) tcpOptions(instance *instance) []tcp.Option {
	controls := f.controls()
	if f.KeepAlive > 0 {
		controls = append(controls, control.SetKeepAlivePeriod(f.KeepAlive, f.KeepAlive))
	}
	return []tcp.Option{
		tcp.WithControl(controls...),
		tcp.WithStreamOptions(instance.config.StreamOptions()...),
	}
}

func (i *instance) Close() error {
	i.cancel()
	return i.reactor.Close()
}
