//go:build linux

package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T) *EpollReactor {
	r, err := NewEpollReactor(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func newSocketPair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollFiresOncePerListen(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	local, remote := newSocketPair(t)

	notify := make(chan bool, 4)
	w, err := r.Poll(local, func(expired bool) { notify <- expired })
	require.NoError(t, err)
	defer w.Free()

	require.NoError(t, w.Listen(0))
	assert.True(t, w.IsPending())
	_, err = unix.Write(remote, []byte("ping"))
	require.NoError(t, err)

	select {
	case expired := <-notify:
		assert.False(t, expired)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for read readiness")
	}
	assert.False(t, w.IsPending())

	select {
	case <-notify:
		t.Fatal("watcher fired without being re-armed")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, w.Listen(0))
	select {
	case expired := <-notify:
		assert.False(t, expired)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for level-triggered readiness")
	}
}

func TestPollTimeout(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	local, _ := newSocketPair(t)

	notify := make(chan bool, 1)
	w, err := r.Poll(local, func(expired bool) { notify <- expired })
	require.NoError(t, err)
	defer w.Free()

	start := time.Now()
	require.NoError(t, w.Listen(50*time.Millisecond))
	select {
	case expired := <-notify:
		assert.True(t, expired)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for expiry")
	}
	assert.False(t, w.IsPending())
}

func TestCancelSuppressesHandler(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	local, remote := newSocketPair(t)

	var calls atomic.Int32
	w, err := r.Poll(local, func(bool) { calls.Add(1) })
	require.NoError(t, err)
	defer w.Free()

	require.NoError(t, w.Listen(20*time.Millisecond))
	w.Cancel()
	assert.False(t, w.IsPending())
	_, err = unix.Write(remote, []byte("ping"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestAwaitWritable(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	local, _ := newSocketPair(t)

	notify := make(chan bool, 1)
	w, err := r.Await(local, func(expired bool) { notify <- expired })
	require.NoError(t, err)
	defer w.Free()

	require.NoError(t, w.Listen(0))
	select {
	case expired := <-notify:
		assert.False(t, expired)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for write readiness")
	}
}

func TestWatcherRegistration(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	local, _ := newSocketPair(t)

	poll, err := r.Poll(local, func(bool) {})
	require.NoError(t, err)
	_, err = r.Poll(local, func(bool) {})
	assert.Error(t, err)

	await, err := r.Await(local, func(bool) {})
	require.NoError(t, err)

	poll.Free()
	assert.Error(t, poll.Listen(0))
	poll, err = r.Poll(local, func(bool) {})
	require.NoError(t, err)
	poll.Free()
	await.Free()
}

func TestAfterFunc(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)

	done := make(chan struct{})
	r.AfterFunc(10*time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}

	var fired atomic.Bool
	timer := r.AfterFunc(50*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, timer.Stop())
	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestClosedReactor(t *testing.T) {
	t.Parallel()
	r, err := NewEpollReactor(context.Background())
	require.NoError(t, err)
	local, _ := newSocketPair(t)

	w, err := r.Poll(local, func(bool) {})
	require.NoError(t, err)
	require.NoError(t, w.Listen(0))
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Error(t, w.Listen(0))
	w.Free()
	_, err = r.Await(local, func(bool) {})
	assert.Error(t, err)
}
