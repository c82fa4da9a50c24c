package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterListDeregister(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	svc := Service{Name: "rgs", Zone: "eu", Host: "10.0.0.5", InstanceID: "i1", TCP: ":8080", UDP: ":8081"}
	r := NewRegistrar(rdb, svc, 30*time.Second)
	require.NoError(t, r.Register(ctx))
	require.NoError(t, r.Register(ctx))

	other := NewRegistrar(rdb, Service{Name: "rgs", Zone: "us", InstanceID: "i2"}, 30*time.Second)
	require.NoError(t, other.Register(ctx))
	defer func() { _ = other.Deregister(ctx) }()

	got, err := List(ctx, rdb, "eu", "rgs")
	require.NoError(t, err)
	assert.Equal(t, []Service{svc}, got)
	assert.Equal(t, 30*time.Second, mr.TTL(svc.key()))

	require.NoError(t, r.Deregister(ctx))
	got, err = List(ctx, rdb, "eu", "rgs")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEntryExpiresWithoutHeartbeat(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := NewRegistrar(rdb, Service{Name: "rgs", Zone: "eu", InstanceID: "i1"}, time.Hour)
	require.NoError(t, r.write(ctx))

	mr.FastForward(2 * time.Hour)
	got, err := List(ctx, rdb, "eu", "rgs")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHeartbeatRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	svc := Service{Name: "rgs", Zone: "eu", InstanceID: "i1"}
	r := NewRegistrar(rdb, svc, 300*time.Millisecond)
	require.NoError(t, r.Register(ctx))
	defer func() { _ = r.Deregister(ctx) }()

	mr.SetTTL(svc.key(), time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL(svc.key()) == 300*time.Millisecond
	}, time.Second, 10*time.Millisecond)
}
