package udp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-riptide/transport"
)

func waitReceive(t *testing.T, tr transport.Transport) transport.Datagram {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := tr.Receive(); ok {
			return d
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no datagram within deadline")
	return transport.Datagram{}
}

func TestLoopback(t *testing.T) {
	server := New()
	require.NoError(t, server.Bind("127.0.0.1:0"))
	defer server.Shutdown()

	client := New()
	require.NoError(t, client.Bind(""))
	defer client.Shutdown()

	to, err := client.Resolve(server.LocalAddr().String())
	require.NoError(t, err)

	payload := []byte{0x06, 0x10, 0x00, 0xAB}
	require.NoError(t, client.Send(payload, to))

	d := waitReceive(t, server)
	require.Equal(t, payload, d.Data)
	require.NotNil(t, d.From)

	// And back, to the observed source endpoint.
	require.NoError(t, server.Send([]byte{0x01}, d.From))
	back := waitReceive(t, client)
	require.Equal(t, []byte{0x01}, back.Data)
}

func TestReceive_EmptyQueue(t *testing.T) {
	tr := New()
	_, ok := tr.Receive()
	require.False(t, ok)
}

func TestSend_Unbound(t *testing.T) {
	tr := New()
	addr, err := tr.Resolve("127.0.0.1:9")
	require.NoError(t, err)
	require.ErrorIs(t, tr.Send([]byte{0}, addr), transport.ErrClosed)
}

func TestBind_Twice(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Bind("127.0.0.1:0"))
	defer tr.Shutdown()
	require.Error(t, tr.Bind("127.0.0.1:0"))
}

func TestShutdown_Idempotent(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Bind("127.0.0.1:0"))
	require.NoError(t, tr.Shutdown())
	require.NoError(t, tr.Shutdown())
	require.ErrorIs(t, tr.Bind("127.0.0.1:0"), transport.ErrClosed)
}

func TestResolve_Invalid(t *testing.T) {
	tr := New()
	_, err := tr.Resolve("not a valid address")
	require.Error(t, err)
}
