//go:build unix

package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestResolveSockaddr(t *testing.T) {
	t.Parallel()
	sa, err := ResolveSockaddr("127.0.0.1", 8080)
	require.NoError(t, err)
	assert.Equal(t, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}, Port: 8080}, sa)
	assert.Equal(t, unix.AF_INET, SockaddrFamily(sa))

	sa, err = ResolveSockaddr("[::1]", 53)
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET6, SockaddrFamily(sa))
	address, port := NameFromSockaddr(sa)
	assert.Equal(t, "[::1]", address)
	assert.Equal(t, 53, port)

	sa, err = ResolveSockaddr("/tmp/test.sock", -1)
	require.NoError(t, err)
	address, port = NameFromSockaddr(sa)
	assert.Equal(t, "/tmp/test.sock", address)
	assert.Equal(t, 0, port)

	_, err = ResolveSockaddr("127.0.0.1", 70000)
	assert.Error(t, err)
	_, err = ResolveSockaddr("", -1)
	assert.Error(t, err)
}

func TestSockaddrForFamily(t *testing.T) {
	t.Parallel()
	sa := &unix.SockaddrInet4{Addr: [4]byte{10, 0, 0, 1}, Port: 53}
	assert.Same(t, sa, SockaddrForFamily(sa, unix.AF_INET))

	mapped := SockaddrForFamily(sa, unix.AF_INET6).(*unix.SockaddrInet6)
	assert.Equal(t, 53, mapped.Port)
	address, port := NameFromSockaddr(mapped)
	assert.Equal(t, "10.0.0.1", address)
	assert.Equal(t, 53, port)
}

func TestResolveSockaddrFamily(t *testing.T) {
	t.Parallel()
	sa, err := ResolveSockaddrFamily("localhost", 53, unix.AF_INET)
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, SockaddrFamily(sa))

	sa, err = ResolveSockaddrFamily("127.0.0.1", 53, unix.AF_INET6)
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET6, SockaddrFamily(sa))
	address, port := NameFromSockaddr(sa)
	assert.Equal(t, "127.0.0.1", address)
	assert.Equal(t, 53, port)

	_, err = ResolveSockaddrFamily("::1", 53, unix.AF_INET)
	assert.Error(t, err)
	_, err = ResolveSockaddrFamily("/tmp/test.sock", -1, unix.AF_INET)
	assert.Error(t, err)
	_, err = ResolveSockaddrFamily("127.0.0.1", 53, unix.AF_UNIX)
	assert.Error(t, err)
}
