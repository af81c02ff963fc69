package exceptions

import (
	"context"
	"io"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketErrorKinds(t *testing.T) {
	t.Parallel()
	err := Failure(syscall.ECONNRESET, "read from stream")
	assert.ErrorIs(t, err, ErrFailure)
	assert.ErrorIs(t, err, syscall.ECONNRESET)
	assert.True(t, IsFailure(err))
	assert.True(t, IsClosed(err))
	assert.Equal(t, "read from stream: "+syscall.ECONNRESET.Error(), err.Error())

	assert.True(t, IsBusy(Busy("already waiting")))
	assert.False(t, IsBusy(Unavailable("closed")))
	assert.True(t, IsUnavailable(Cause(Unavailable("no longer readable"), "read")))
}

func TestTimedOutIsTimeout(t *testing.T) {
	t.Parallel()
	err := TimedOut("the stream timed out")
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTimeout(Cause(err, "pipe")))
	assert.False(t, IsTimeout(Closed("closed")))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
}

func TestErrors(t *testing.T) {
	t.Parallel()
	require.NoError(t, Errors(nil, nil))
	assert.Equal(t, io.EOF, Errors(nil, io.EOF))
	err := Errors(io.EOF, ErrBusy)
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestCast(t *testing.T) {
	t.Parallel()
	timeoutErr, ok := Cast[TimeoutError](Cause(TimedOut("read"), "outer"))
	require.True(t, ok)
	assert.True(t, timeoutErr.Timeout())
	_, ok = Cast[TimeoutError](New("plain"))
	assert.False(t, ok)
}
