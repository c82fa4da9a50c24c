package udp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"RoomGroup/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, handler PacketHandler) (*Server, *net.UDPConn) {
	t.Helper()
	s := NewServer("127.0.0.1:0", time.Minute)
	s.OnPacket = handler
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	client, err := net.DialUDP("udp", nil, s.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func send(t *testing.T, c *net.UDPConn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = c.Write(data)
	require.NoError(t, err)
}

func TestServer_DispatchesEnvelopes(t *testing.T) {
	got := make(chan protocol.Envelope, 1)
	s, client := startServer(t, func(_ context.Context, peerID string, env protocol.Envelope) error {
		got <- env
		return nil
	})

	send(t, client, protocol.New(protocol.HeaderState, map[string]string{"tid": "t", "gid": "g", "uid": "A"}))

	select {
	case env := <-got:
		assert.Equal(t, protocol.HeaderState, env.Header)
		assert.Equal(t, client.LocalAddr().String(), env.From)
	case <-time.After(time.Second):
		t.Fatal("datagram not dispatched")
	}

	info := s.Info()
	assert.Equal(t, s.Addr().(*net.UDPAddr).Port, info.Port)
	assert.Equal(t, 1, info.Peers)
	assert.Equal(t, uint64(1), info.Received)
	assert.Equal(t, uint64(0), info.Dropped)
}

func TestServer_CountsDrops(t *testing.T) {
	s, client := startServer(t, func(context.Context, string, protocol.Envelope) error {
		return errors.New("rejected")
	})

	_, err := client.Write([]byte("not json"))
	require.NoError(t, err)
	send(t, client, map[string]string{"type": "other", "header": protocol.HeaderState})
	send(t, client, protocol.New(protocol.HeaderState, nil))

	assert.Eventually(t, func() bool { return s.Info().Dropped == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(3), s.Info().Received)
}

func TestServer_PrunesSilentPeers(t *testing.T) {
	s := NewServer("127.0.0.1:0", 50*time.Millisecond)
	s.touch(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000})
	s.touch(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4001})

	assert.Equal(t, 0, s.prune(time.Now()))
	assert.Equal(t, 2, s.prune(time.Now().Add(time.Second)))
	assert.Equal(t, 0, s.Info().Peers)
	assert.Equal(t, 0, s.Info().Port)
}
