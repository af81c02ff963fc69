package stream

import (
	"bytes"
	"context"
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"

	"github.com/juju/ratelimit"
)

// Sink is the destination of Pipe. *WritableStream and *Stream implement it.
type Sink interface {
	IsWritable() bool
	Write(ctx context.Context, data []byte) (int, error)
	End(ctx context.Context) error
}

type PipeOptions struct {
	// LeaveOpen skips ending the sink once the source reaches end of stream.
	LeaveOpen bool
	// Length stops the pipe after this many bytes. Zero means no limit.
	Length int
	// Delimiter stops the pipe after a chunk ending with it.
	Delimiter []byte
	// Timeout applies to each read from the source.
	Timeout time.Duration
	// RateLimit caps throughput in bytes per second. Zero means no limit.
	RateLimit float64
}

// Pipe copies from s to sink until the source ends, a stop condition in
// options is met, or either side is no longer usable. It returns the number of
// bytes the sink accepted.
func (s *ReadableStream) Pipe(ctx context.Context, sink Sink, options PipeOptions) (int64, error) {
	if options.Length < 0 {
		return 0, E.InvalidArgument("negative pipe length: ", options.Length)
	}
	if options.RateLimit < 0 {
		return 0, E.InvalidArgument("negative pipe rate: ", options.RateLimit)
	}
	if !sink.IsWritable() {
		return 0, E.Unwritable("the sink is not writable")
	}

	var bucket *ratelimit.Bucket
	if options.RateLimit > 0 {
		capacity := int64(options.RateLimit / 10)
		if capacity < 1 {
			capacity = 1
		}
		bucket = ratelimit.NewBucketWithRate(options.RateLimit, capacity)
	}

	var total int64
	for s.IsReadable() && sink.IsWritable() {
		var length int
		if options.Length > 0 {
			length = options.Length - int(total)
		}
		data, err := s.read(ctx, length, options.Delimiter, options.Timeout)
		if err != nil {
			return total, err
		}
		if len(data) == 0 {
			break
		}
		n, err := sink.Write(ctx, data)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if options.Length > 0 && total >= int64(options.Length) {
			return total, nil
		}
		if len(options.Delimiter) > 0 && bytes.HasSuffix(data, options.Delimiter) {
			return total, nil
		}
		if bucket != nil {
			err = s.throttle(ctx, bucket.Take(int64(n)))
			if err != nil {
				return total, err
			}
		}
	}

	if !s.IsReadable() && !options.LeaveOpen && sink.IsWritable() {
		err := sink.End(ctx)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *ReadableStream) throttle(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	s.access.Lock()
	r := s.reactor
	s.access.Unlock()

	done := make(chan struct{})
	timer := r.AfterFunc(wait, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return context.Cause(ctx)
	}
}
