package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"RoomGroup/internal/bus"
	"RoomGroup/internal/logic"
	"RoomGroup/internal/protocol"
	"RoomGroup/internal/registry"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayed struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *relayed) relay(_ context.Context, evt bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type fixture struct {
	reg    registry.Registry
	states logic.StateStore
	out    *relayed
	router *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{reg: registry.NewRedis(rdb), states: logic.NewRedisStates(rdb), out: &relayed{}}
	require.NoError(t, f.reg.Ensure(context.Background(), "queue"))
	f.router = New(f.reg, f.states, "queue", f.out.relay)
	return f
}

func (f *fixture) match(t *testing.T, members ...string) string {
	t.Helper()
	ctx := context.Background()
	gid, err := f.reg.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.reg.Push(ctx, gid, members...))
	return gid
}

func envelope(header string, content any) protocol.Envelope {
	return protocol.New(header, content)
}

func TestMatchOf(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gid := f.match(t, "A")
	require.NoError(t, f.reg.Push(ctx, "queue", "Q"))
	f.match(t, "M")
	f.match(t, "M")

	got, ok, err := f.router.MatchOf(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, gid, got)

	for _, id := range []string{"Q", "M", "nobody"} {
		_, ok, err := f.router.MatchOf(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
}

func TestHandleTCP_StateIsStoredForSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gid := f.match(t, "A", "B")

	err := f.router.HandleTCP(ctx, "A", protocol.StateUpdate{State: json.RawMessage(`{"x":3}`)})
	require.NoError(t, err)

	states, err := f.states.States(ctx, gid)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":3}`, string(states["A"]))
	assert.Empty(t, f.out.events)
}

func TestHandleTCP_MessageIsTaggedAndRelayed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gid := f.match(t, "A", "B")

	require.NoError(t, f.router.HandleTCP(ctx, "B", protocol.MessageUpdate{Body: map[string]any{"text": "gg"}}))
	require.NoError(t, f.router.HandleTCP(ctx, "B", protocol.WorldUpdate{Body: map[string]any{"tile": 4.0}}))

	require.Len(t, f.out.events, 2)
	msg := f.out.events[0]
	assert.Equal(t, bus.TopicTCPUpdate, msg.Topic)
	assert.Equal(t, protocol.KindMessage, msg.Kind)
	assert.Equal(t, gid, msg.GroupID)
	assert.JSONEq(t, `{"text":"gg","tcpId":"B"}`, string(msg.Payload))
	assert.Equal(t, protocol.KindWorld, f.out.events[1].Kind)
}

func TestHandleTCP_OutsideMatchIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.reg.Push(ctx, "queue", "A"))

	require.NoError(t, f.router.HandleTCP(ctx, "A", protocol.MessageUpdate{Body: map[string]any{}}))
	require.NoError(t, f.router.HandleTCP(ctx, "A", protocol.StateUpdate{State: json.RawMessage(`1`)}))
	assert.Empty(t, f.out.events)

	states, err := f.states.States(ctx, "queue")
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestHandleUDP_ValidPacketIsRelayed(t *testing.T) {
	f := newFixture(t)
	env := envelope(protocol.HeaderState, map[string]any{"tid": "t", "gid": "g1", "uid": "A", "state": 1})

	require.NoError(t, f.router.HandleUDP(context.Background(), "10.0.0.1:9000", env))

	require.Len(t, f.out.events, 1)
	evt := f.out.events[0]
	assert.Equal(t, bus.TopicUDPUpdate, evt.Topic)
	assert.Equal(t, protocol.KindState, evt.Kind)
	assert.Equal(t, "g1", evt.GroupID)
	assert.Equal(t, "A", evt.ClientID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(evt.Payload, &body))
	assert.Equal(t, "10.0.0.1:9000", body["udpId"])
}

func TestHandleUDP_MalformedPacketNeverReachesBus(t *testing.T) {
	f := newFixture(t)
	cases := []protocol.Envelope{
		envelope(protocol.HeaderState, map[string]any{"tid": "t", "gid": "g1"}),
		envelope(protocol.HeaderMessage, map[string]any{"tid": "t", "gid": "g1", "uid": 5}),
		envelope(protocol.HeaderWorld, []string{"not", "an", "object"}),
		envelope(protocol.HeaderConfirm, map[string]any{"tid": "t", "gid": "g1", "uid": "A"}),
	}
	for _, env := range cases {
		err := f.router.HandleUDP(context.Background(), "peer", env)
		assert.Error(t, err)
	}
	assert.Empty(t, f.out.events)
}

func TestHandleTCP_RelayFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.match(t, "A")
	boom := errors.New("bus down")
	f.router.relay = func(context.Context, bus.Event) error { return boom }

	err := f.router.HandleTCP(context.Background(), "A", protocol.MessageUpdate{Body: map[string]any{}})
	assert.ErrorIs(t, err, boom)
}
