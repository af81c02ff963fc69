package tcp

import (
	"time"

	"github.com/sagernet/sing-socket/common/control"
	"github.com/sagernet/sing-socket/common/log"
	"github.com/sagernet/sing-socket/common/stream"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBacklog        = 128
	DefaultConnectTimeout = 10 * time.Second
)

type options struct {
	logger        logrus.FieldLogger
	streamOptions []stream.Option
	backlog       int
	controls      []control.Func
	fastOpen      int
}

type Option func(*options)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStreamOptions is applied to every stream the connector or server
// creates.
func WithStreamOptions(streamOptions ...stream.Option) Option {
	return func(o *options) {
		o.streamOptions = append(o.streamOptions, streamOptions...)
	}
}

func WithBacklog(backlog int) Option {
	return func(o *options) {
		if backlog > 0 {
			o.backlog = backlog
		}
	}
}

func WithReuseAddr() Option {
	return WithControl(control.ReuseAddr())
}

// WithControl runs funcs on every socket before bind or connect.
func WithControl(funcs ...control.Func) Option {
	return func(o *options) {
		o.controls = append(o.controls, funcs...)
	}
}

// WithFastOpen enables TCP fast open on a server with the given queue length.
func WithFastOpen(queue int) Option {
	return func(o *options) {
		o.fastOpen = queue
	}
}

func newOptions(opts []Option) options {
	o := options{
		backlog: DefaultBacklog,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewLogger("tcp")
	}
	return o
}

// ConnectOptions describes one outgoing connection. The TLS fields are
// validated here; encryption is left to the layer above the stream.
type ConnectOptions struct {
	// Protocol is "tcp" (the default) or "unix". A unix address is a socket
	// path and the port is ignored.
	Protocol string
	// Timeout bounds connection setup. Zero means DefaultConnectTimeout.
	Timeout         time.Duration
	TLSVerifyName   string
	AllowSelfSigned bool
	VerifyDepth     int
	CAFile          string
	FastOpen        bool
}
