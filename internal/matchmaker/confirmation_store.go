package matchmaker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConfirmationStore holds the confirming clients of each open match so any
// instance can count them.
type ConfirmationStore interface {
	// Push adds clientID to the set and refreshes its TTL. Pushing twice
	// does not grow the set.
	Push(ctx context.Context, groupID, clientID string) error
	Size(ctx context.Context, groupID string) (int64, error)
	Erase(ctx context.Context, groupID string) error
}

func confirmationKey(groupID string) string {
	return "rgs:mmc:" + groupID
}

type redisConfirmations struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisConfirmations(rdb *redis.Client) ConfirmationStore {
	return &redisConfirmations{rdb: rdb, ttl: MaxLifetime}
}

func (r *redisConfirmations) Push(ctx context.Context, groupID, clientID string) error {
	key := confirmationKey(groupID)
	p := r.rdb.TxPipeline()
	p.SAdd(ctx, key, clientID)
	p.Expire(ctx, key, r.ttl)
	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("confirm %s for %s: %w", clientID, groupID, err)
	}
	return nil
}

func (r *redisConfirmations) Size(ctx context.Context, groupID string) (int64, error) {
	n, err := r.rdb.SCard(ctx, confirmationKey(groupID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count confirmations of %s: %w", groupID, err)
	}
	return n, nil
}

func (r *redisConfirmations) Erase(ctx context.Context, groupID string) error {
	return r.rdb.Del(ctx, confirmationKey(groupID)).Err()
}
