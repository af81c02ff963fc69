//go:build linux

package datagram

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/reactor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

func newTestReactor(t *testing.T) *reactor.EpollReactor {
	r, err := reactor.NewEpollReactor(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func newTestDatagram(t *testing.T, r reactor.Reactor, host string, port int, options ...Option) *Datagram {
	d, err := Create(r, host, port, options...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func waitPending(t *testing.T, d *Datagram) {
	require.Eventually(t, func() bool {
		d.access.Lock()
		defer d.access.Unlock()
		return d.pending != nil
	}, 5*time.Second, time.Millisecond)
}

func TestExchange(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	a := newTestDatagram(t, r, "127.0.0.1", 0)
	b := newTestDatagram(t, r, "127.0.0.1", 0)
	ctx := context.Background()

	assert.Equal(t, "127.0.0.1", a.Address())
	assert.NotZero(t, a.Port())

	n, err := a.Send(ctx, b.Address(), b.Port(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	packet, err := b.Receive(ctx, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(packet.Data))
	assert.Equal(t, "127.0.0.1", packet.Address)
	assert.Equal(t, a.Port(), packet.Port)

	_, err = b.Send(ctx, packet.Address, packet.Port, []byte("pong"))
	require.NoError(t, err)
	packet, err = a.Receive(ctx, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(packet.Data))
}

func TestReceiveTruncates(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	a := newTestDatagram(t, r, "127.0.0.1", 0)
	b := newTestDatagram(t, r, "127.0.0.1", 0)
	ctx := context.Background()

	_, err := a.Send(ctx, b.Address(), b.Port(), []byte("abcdef"))
	require.NoError(t, err)
	packet, err := b.Receive(ctx, 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(packet.Data))

	_, err = b.Receive(ctx, 0, 50*time.Millisecond)
	assert.ErrorIs(t, err, E.ErrTimeout)
}

func TestReceiveBusyAndClose(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	d := newTestDatagram(t, r, "127.0.0.1", 0)
	peer := newTestDatagram(t, r, "127.0.0.1", 0)

	type receiveResult struct {
		packet *Packet
		err    error
	}
	first := make(chan receiveResult, 1)
	go func() {
		packet, err := d.Receive(context.Background(), 0, 0)
		first <- receiveResult{packet, err}
	}()
	waitPending(t, d)

	_, err := d.Receive(context.Background(), 0, 0)
	assert.True(t, E.IsBusy(err))

	_, err = peer.Send(context.Background(), d.Address(), d.Port(), []byte("first"))
	require.NoError(t, err)
	select {
	case result := <-first:
		require.NoError(t, result.err)
		assert.Equal(t, "first", string(result.packet.Data))
		assert.Equal(t, peer.Port(), result.packet.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("pending receive did not complete")
	}

	second := make(chan error, 1)
	go func() {
		_, err := d.Receive(context.Background(), 0, 0)
		second <- err
	}()
	waitPending(t, d)
	require.NoError(t, d.Close())
	assert.ErrorIs(t, <-second, E.ErrClosed)
	_, err = d.Receive(context.Background(), 0, 0)
	assert.True(t, E.IsUnavailable(err))
	_, err = d.Send(context.Background(), "127.0.0.1", 9, []byte("x"))
	assert.True(t, E.IsUnavailable(err))
	assert.False(t, d.IsOpen())
}

func TestReceiveTimeout(t *testing.T) {
	t.Parallel()
	d := newTestDatagram(t, newTestReactor(t), "127.0.0.1", 0)

	start := time.Now()
	_, err := d.Receive(context.Background(), 0, 100*time.Millisecond)
	assert.ErrorIs(t, err, E.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.True(t, d.IsOpen())
}

func TestReceiveCancel(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	a := newTestDatagram(t, r, "127.0.0.1", 0)
	b := newTestDatagram(t, r, "127.0.0.1", 0)
	reason := errors.New("stop")

	ctx, cancel := context.WithCancelCause(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := b.Receive(ctx, 0, 0)
		result <- err
	}()
	waitPending(t, b)
	cancel(reason)
	assert.ErrorIs(t, <-result, reason)

	_, err := a.Send(context.Background(), b.Address(), b.Port(), []byte("after"))
	require.NoError(t, err)
	packet, err := b.Receive(context.Background(), 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "after", string(packet.Data))
}

func TestSendEmpty(t *testing.T) {
	t.Parallel()
	d := newTestDatagram(t, newTestReactor(t), "127.0.0.1", 0)
	n, err := d.Send(context.Background(), "127.0.0.1", d.Port(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendFragments(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	a := newTestDatagram(t, r, "127.0.0.1", 0)
	b := newTestDatagram(t, r, "127.0.0.1", 0)
	ctx := context.Background()

	payload := bytes.Repeat([]byte{'f'}, 1200)
	n, err := a.Send(ctx, b.Address(), b.Port(), payload)
	require.NoError(t, err)
	assert.Equal(t, 1200, n)

	var sizes []int
	for i := 0; i < 3; i++ {
		packet, err := b.Receive(ctx, 0, time.Second)
		require.NoError(t, err)
		sizes = append(sizes, len(packet.Data))
	}
	assert.Equal(t, []int{512, 512, 176}, sizes)
}

func TestSendInvalidAddress(t *testing.T) {
	t.Parallel()
	d := newTestDatagram(t, newTestReactor(t), "127.0.0.1", 0)
	_, err := d.Send(context.Background(), "127.0.0.1", 70000, []byte("x"))
	assert.ErrorIs(t, err, E.ErrInvalidArgument)
	assert.True(t, d.IsOpen())
}

func TestSendFamilyMismatch(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	a := newTestDatagram(t, r, "127.0.0.1", 0)
	b := newTestDatagram(t, r, "127.0.0.1", 0)
	ctx := context.Background()

	_, err := a.Send(ctx, "::1", b.Port(), []byte("x"))
	assert.ErrorIs(t, err, E.ErrInvalidArgument)
	assert.True(t, a.IsOpen())

	_, err = a.Send(ctx, "localhost", b.Port(), []byte("by name"))
	require.NoError(t, err)
	packet, err := b.Receive(ctx, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "by name", string(packet.Data))
}

func TestCreateFailure(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	a := newTestDatagram(t, r, "127.0.0.1", 0)

	_, err := Create(r, "127.0.0.1", a.Port())
	assert.True(t, E.IsFailure(err))
	_, err = Create(r, "127.0.0.1", 70000)
	assert.ErrorIs(t, err, E.ErrInvalidArgument)
}

func TestRebind(t *testing.T) {
	t.Parallel()
	a := newTestDatagram(t, newTestReactor(t), "127.0.0.1", 0)
	b := newTestDatagram(t, newTestReactor(t), "127.0.0.1", 0)

	result := make(chan *Packet, 1)
	go func() {
		packet, err := b.Receive(context.Background(), 0, 0)
		assert.NoError(t, err)
		result <- packet
	}()
	waitPending(t, b)
	require.NoError(t, b.Rebind(newTestReactor(t)))

	_, err := a.Send(context.Background(), b.Address(), b.Port(), []byte("moved"))
	require.NoError(t, err)
	select {
	case packet := <-result:
		assert.Equal(t, "moved", string(packet.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("receive did not complete after rebind")
	}

	require.NoError(t, b.Close())
	assert.True(t, E.IsUnavailable(b.Rebind(newTestReactor(t))))
}

func TestUnixDatagram(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	dir := t.TempDir()
	a := newTestDatagram(t, r, filepath.Join(dir, "a.sock"), -1)
	b := newTestDatagram(t, r, filepath.Join(dir, "b.sock"), -1)
	assert.Equal(t, filepath.Join(dir, "b.sock"), b.Address())
	assert.Zero(t, b.Port())

	_, err := a.Send(context.Background(), b.Address(), -1, []byte("local"))
	require.NoError(t, err)
	packet, err := b.Receive(context.Background(), 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "local", string(packet.Data))
	assert.Equal(t, a.Address(), packet.Address)
}

func TestIPv6(t *testing.T) {
	t.Parallel()
	if !nettest.SupportsIPv6() {
		t.Skip("IPv6 not supported")
	}
	r := newTestReactor(t)
	a := newTestDatagram(t, r, "::1", 0)
	b := newTestDatagram(t, r, "::1", 0)
	assert.Equal(t, "[::1]", a.Address())

	_, err := a.Send(context.Background(), b.Address(), b.Port(), []byte("six"))
	require.NoError(t, err)
	packet, err := b.Receive(context.Background(), 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "six", string(packet.Data))
	assert.Equal(t, "[::1]", packet.Address)
}
