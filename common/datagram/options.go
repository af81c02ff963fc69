package datagram

import (
	"github.com/sagernet/sing-socket/common/buf"
	"github.com/sagernet/sing-socket/common/control"
	"github.com/sagernet/sing-socket/common/log"

	"github.com/sirupsen/logrus"
)

type options struct {
	logger        logrus.FieldLogger
	maxPacketSize int
	controls      []control.Func
}

type Option func(*options)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMaxPacketSize sets the largest payload handed to the OS by one send and
// the default receive length.
func WithMaxPacketSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.maxPacketSize = size
		}
	}
}

func WithReuseAddr() Option {
	return WithControl(control.ReuseAddr())
}

// WithControl runs funcs on the socket before it is bound.
func WithControl(funcs ...control.Func) Option {
	return func(o *options) {
		o.controls = append(o.controls, funcs...)
	}
}

func newOptions(opts []Option) options {
	o := options{
		maxPacketSize: buf.MaxPacketSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewLogger("datagram")
	}
	return o
}
