package udp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sagernet/sing-socket/common/datagram"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/reactor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct {
	access sync.Mutex
	errors []error
}

func (h *echoHandler) NewPacket(ctx context.Context, packet *datagram.Packet, writer PacketWriter) error {
	if string(packet.Data) == "fail" {
		return E.New("refused")
	}
	_, err := writer.Send(ctx, packet.Address, packet.Port, packet.Data)
	return err
}

func (h *echoHandler) HandleError(err error) {
	h.access.Lock()
	defer h.access.Unlock()
	h.errors = append(h.errors, err)
}

func TestListenerEcho(t *testing.T) {
	t.Parallel()
	r, err := reactor.NewEpollReactor(context.Background())
	require.NoError(t, err)
	defer r.Close()

	server, err := datagram.Create(r, "127.0.0.1", 0)
	require.NoError(t, err)
	handler := new(echoHandler)
	listener := NewListener(server, handler)
	listener.Start()

	client, err := datagram.Create(r, "127.0.0.1", 0)
	require.NoError(t, err)
	defer client.Close()
	ctx := context.Background()

	_, err = client.Send(ctx, server.Address(), server.Port(), []byte("fail"))
	require.NoError(t, err)
	_, err = client.Send(ctx, server.Address(), server.Port(), []byte("marco"))
	require.NoError(t, err)
	packet, err := client.Receive(ctx, 0, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "marco", string(packet.Data))

	require.NoError(t, listener.Close())
	select {
	case <-listener.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not stop")
	}
	assert.False(t, server.IsOpen())

	handler.access.Lock()
	defer handler.access.Unlock()
	require.Len(t, handler.errors, 1)
	assert.Contains(t, handler.errors[0].Error(), "refused")
}
