package stream

import (
	"github.com/sagernet/sing-socket/common/buf"
	"github.com/sagernet/sing-socket/common/log"

	"github.com/sirupsen/logrus"
)

type options struct {
	logger    logrus.FieldLogger
	chunkSize int
}

type Option func(*options)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithChunkSize sets how many bytes a single OS read may add to the buffer.
func WithChunkSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.chunkSize = size
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		chunkSize: buf.ChunkSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewLogger("stream")
	}
	return o
}
