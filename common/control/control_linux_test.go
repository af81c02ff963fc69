package control

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTCPSocket(t *testing.T) int {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func TestReuseAddr(t *testing.T) {
	t.Parallel()
	fd := newTCPSocket(t)
	require.NoError(t, Apply(fd, ReuseAddr()))
	value, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	assert.Equal(t, 1, value)
}

func TestKeepAlivePeriod(t *testing.T) {
	t.Parallel()
	fd := newTCPSocket(t)
	require.NoError(t, Apply(fd, SetKeepAlivePeriod(1500*time.Millisecond, 0)))
	idle, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE)
	require.NoError(t, err)
	assert.Equal(t, 2, idle)
	interval, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL)
	require.NoError(t, err)
	assert.Equal(t, 1, interval)
}

func TestApplyStopsAtFirstError(t *testing.T) {
	t.Parallel()
	failure := errors.New("refused")
	var calls int
	count := func(int) error {
		calls++
		return nil
	}
	err := Apply(0, count, nil, func(int) error { return failure }, count)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 1, calls)

	combined := Append(count, Append(nil, count))
	require.NoError(t, combined(0))
	assert.Equal(t, 3, calls)
}

func TestBindToUnknownInterface(t *testing.T) {
	t.Parallel()
	fd := newTCPSocket(t)
	assert.Error(t, Apply(fd, BindToInterface("does-not-exist0")))
}
