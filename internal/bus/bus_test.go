package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"RoomGroup/internal/protocol"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newRedisBus(t *testing.T, mr *miniredis.Miniredis, instance string) *RedisBus {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedis(rdb, "test-topic", instance)
	t.Cleanup(func() {
		_ = b.Close()
		_ = rdb.Close()
	})
	return b
}

func TestRedisBus_FanoutReachesEveryInstance(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	b1 := newRedisBus(t, mr, "i-1")
	b2 := newRedisBus(t, mr, "i-2")
	var r1, r2 recorder
	require.NoError(t, b1.Subscribe(ctx, r1.handle))
	require.NoError(t, b2.Subscribe(ctx, r2.handle))

	require.NoError(t, b1.Publish(ctx, Event{Topic: TopicMatchEnded, GroupID: "g-1"}))

	assert.Eventually(t, func() bool { return r1.count() == 1 && r2.count() == 1 }, time.Second, 10*time.Millisecond)
	evt := r2.last()
	assert.Equal(t, TopicMatchEnded, evt.Topic)
	assert.Equal(t, "g-1", evt.GroupID)
	assert.Equal(t, "i-1", evt.Origin)
	assert.Equal(t, Fanout, evt.Delivery)
	assert.NotEmpty(t, evt.ID)
}

func TestRedisBus_RaceIsClaimedOnce(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	var handled atomic.Int32
	h := func(context.Context, Event) { handled.Add(1) }
	for _, id := range []string{"i-1", "i-2", "i-3"} {
		b := newRedisBus(t, mr, id)
		require.NoError(t, b.Subscribe(ctx, h))
	}

	pub := newRedisBus(t, mr, "publisher")
	require.NoError(t, pub.Publish(ctx, Event{Topic: TopicMatchStarted, Delivery: Race, GroupID: "g-1"}))

	assert.Eventually(t, func() bool { return handled.Load() >= 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), handled.Load())
}

func TestRedisBus_HealthCheck(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	b := NewRedis(rdb, "test-topic", "i-1")
	assert.NoError(t, b.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, b.HealthCheck(context.Background()))
}

func TestMemoryBus(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var r1, r2 recorder
	require.NoError(t, m.Subscribe(ctx, r1.handle))
	require.NoError(t, m.Subscribe(ctx, r2.handle))

	require.NoError(t, m.Publish(ctx, Event{Topic: TopicTCPUpdate, GroupID: "g"}))
	assert.Equal(t, 1, r1.count())
	assert.Equal(t, 1, r2.count())

	require.NoError(t, m.Publish(ctx, Event{Topic: TopicMatchStarted, Delivery: Race, GroupID: "g"}))
	assert.Equal(t, 2, r1.count())
	assert.Equal(t, 1, r2.count())

	require.NoError(t, m.Close())
	require.NoError(t, m.Publish(ctx, Event{Topic: TopicTCPUpdate}))
	assert.Equal(t, 2, r1.count())
}

func TestCodec_KeepsPayloadBytes(t *testing.T) {
	in := Event{
		ID:         "e1",
		Topic:      TopicDeliver,
		Delivery:   Fanout,
		Origin:     "i1",
		Kind:       protocol.KindWorld,
		Payload:    json.RawMessage(`{"type":"internal","header":"RGS:START"}`),
		Recipients: []string{"A", "B"},
	}
	data, err := encode(in)
	require.NoError(t, err)

	out, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decode([]byte("{not cbor"))
	assert.Error(t, err)
}
