package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"RoomGroup/internal/utils"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const claimTTL = time.Minute

func claimKey(evt Event) string {
	return fmt.Sprintf("rgs:claim:%s:%s", evt.Topic, evt.ID)
}

// RedisBus publishes every event as CBOR on one redis channel.
type RedisBus struct {
	rdb      *redis.Client
	channel  string
	instance string
	log      *log.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
	wg   sync.WaitGroup
}

func NewRedis(rdb *redis.Client, channel, instanceID string) *RedisBus {
	return &RedisBus{
		rdb:      rdb,
		channel:  channel,
		instance: instanceID,
		log:      utils.Logger("bus"),
	}
}

func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Origin == "" {
		evt.Origin = b.instance
	}
	if evt.Delivery == "" {
		evt.Delivery = Fanout
	}
	data, err := encode(evt)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Topic, err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", evt.Topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, h Handler) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			evt, err := decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping undecodable bus message", "err", err)
				continue
			}
			if evt.Delivery == Race && !b.claim(ctx, evt) {
				continue
			}
			h(ctx, evt)
		}
	}()
	return nil
}

// claim reports whether this instance won a race event. A failing store
// counts as a win so the event is not lost.
func (b *RedisBus) claim(ctx context.Context, evt Event) bool {
	ok, err := b.rdb.SetNX(ctx, claimKey(evt), b.instance, claimTTL).Result()
	if err != nil {
		b.log.Error("race claim failed, handling anyway", "topic", evt.Topic, "id", evt.ID, "err", err)
		return true
	}
	return ok
}

func (b *RedisBus) HealthCheck(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var firstErr error
	for _, ps := range subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	return firstErr
}
