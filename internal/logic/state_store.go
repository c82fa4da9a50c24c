package logic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateTTL = 30 * time.Minute

// StateStore is the shared per-match state, one entry per client. Any
// instance may write it; the instance running the match's logic reads it.
type StateStore interface {
	UpdateState(ctx context.Context, groupID, clientID string, state json.RawMessage) error
	States(ctx context.Context, groupID string) (map[string]json.RawMessage, error)
	Erase(ctx context.Context, groupID string) error
}

func stateKey(groupID string) string {
	return "rgs:state:" + groupID
}

type redisStates struct {
	rdb *redis.Client
}

func NewRedisStates(rdb *redis.Client) StateStore {
	return &redisStates{rdb: rdb}
}

func (r *redisStates) UpdateState(ctx context.Context, groupID, clientID string, state json.RawMessage) error {
	if len(state) == 0 {
		state = json.RawMessage("null")
	}
	key := stateKey(groupID)
	p := r.rdb.TxPipeline()
	p.HSet(ctx, key, clientID, []byte(state))
	p.Expire(ctx, key, stateTTL)
	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("update state of %s in %s: %w", clientID, groupID, err)
	}
	return nil
}

func (r *redisStates) States(ctx context.Context, groupID string) (map[string]json.RawMessage, error) {
	raw, err := r.rdb.HGetAll(ctx, stateKey(groupID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read states of %s: %w", groupID, err)
	}
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

func (r *redisStates) Erase(ctx context.Context, groupID string) error {
	return r.rdb.Del(ctx, stateKey(groupID)).Err()
}
