package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// key 约定:
//
//	zset: rgs:group:{groupId}   -> member clientId, score join sequence
//	set : rgs:client:{clientId} -> groupIds
//	set : rgs:groups            -> every known groupId
//	int : rgs:seq               -> join sequence
const (
	groupPrefix  = "rgs:group:"
	clientPrefix = "rgs:client:"
	groupsKey    = "rgs:groups"
	seqKey       = "rgs:seq"
)

func groupKey(id string) string  { return groupPrefix + id }
func clientKey(id string) string { return clientPrefix + id }

// Scripts run against a single redis node. Push and remove declare every
// key they touch; erase and leave-all derive member keys from what they
// read, so on Redis Cluster the registry would need every key in one hash
// slot.

// KEYS[1]=group KEYS[2]=seq KEYS[3]=groups KEYS[4..]=client sets
// ARGV[1]=groupId ARGV[2..]=clients
var pushScript = redis.NewScript(`
redis.call("SADD", KEYS[3], ARGV[1])
for i = 2, #ARGV do
	if not redis.call("ZSCORE", KEYS[1], ARGV[i]) then
		redis.call("ZADD", KEYS[1], redis.call("INCR", KEYS[2]), ARGV[i])
	end
	redis.call("SADD", KEYS[i + 2], ARGV[1])
end
return 1
`)

// KEYS[1]=group KEYS[2..]=client sets ARGV[1]=groupId ARGV[2]=exact flag ARGV[3..]=clients
var removeScript = redis.NewScript(`
if ARGV[2] == "1" then
	for i = 3, #ARGV do
		if not redis.call("ZSCORE", KEYS[1], ARGV[i]) then
			return 0
		end
	end
end
for i = 3, #ARGV do
	redis.call("ZREM", KEYS[1], ARGV[i])
	redis.call("SREM", KEYS[i - 1], ARGV[1])
end
return 1
`)

// KEYS[1]=group KEYS[2]=groups ARGV[1]=groupId ARGV[2]=client prefix
var eraseScript = redis.NewScript(`
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, m in ipairs(members) do
	redis.call("SREM", ARGV[2] .. m, ARGV[1])
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return #members
`)

// KEYS[1]=client ARGV[1]=clientId ARGV[2]=group prefix
var leaveAllScript = redis.NewScript(`
local groups = redis.call("SMEMBERS", KEYS[1])
for _, g in ipairs(groups) do
	redis.call("ZREM", ARGV[2] .. g, ARGV[1])
end
redis.call("DEL", KEYS[1])
return groups
`)

type redisRegistry struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) Registry {
	return &redisRegistry{rdb: rdb}
}

func (r *redisRegistry) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := r.Ensure(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (r *redisRegistry) Ensure(ctx context.Context, groupID string) error {
	if err := r.rdb.SAdd(ctx, groupsKey, groupID).Err(); err != nil {
		return fmt.Errorf("ensure group %s: %w", groupID, err)
	}
	return nil
}

func (r *redisRegistry) List(ctx context.Context, groupID string) ([]string, error) {
	ids, err := r.rdb.ZRange(ctx, groupKey(groupID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list group %s: %w", groupID, err)
	}
	return ids, nil
}

func (r *redisRegistry) Push(ctx context.Context, groupID string, clientIDs ...string) error {
	if len(clientIDs) == 0 {
		return nil
	}
	args := append([]any{groupID}, toArgs(clientIDs)...)
	keys := append([]string{groupKey(groupID), seqKey, groupsKey}, clientKeys(clientIDs)...)
	if err := pushScript.Run(ctx, r.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("push into group %s: %w", groupID, err)
	}
	return nil
}

func (r *redisRegistry) Remove(ctx context.Context, groupID string, clientIDs ...string) error {
	_, err := r.remove(ctx, groupID, false, clientIDs)
	return err
}

func (r *redisRegistry) RemoveExact(ctx context.Context, groupID string, clientIDs ...string) error {
	ok, err := r.remove(ctx, groupID, true, clientIDs)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("remove from group %s: %w", groupID, ErrMembersChanged)
	}
	return nil
}

func (r *redisRegistry) remove(ctx context.Context, groupID string, exact bool, clientIDs []string) (bool, error) {
	if len(clientIDs) == 0 {
		return true, nil
	}
	flag := "0"
	if exact {
		flag = "1"
	}
	args := append([]any{groupID, flag}, toArgs(clientIDs)...)
	keys := append([]string{groupKey(groupID)}, clientKeys(clientIDs)...)
	n, err := removeScript.Run(ctx, r.rdb, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("remove from group %s: %w", groupID, err)
	}
	return n == 1, nil
}

func (r *redisRegistry) Contains(ctx context.Context, groupID, clientID string) (bool, error) {
	err := r.rdb.ZScore(ctx, groupKey(groupID), clientID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("contains %s in %s: %w", clientID, groupID, err)
	}
	return true, nil
}

func (r *redisRegistry) Erase(ctx context.Context, groupID string) error {
	keys := []string{groupKey(groupID), groupsKey}
	if err := eraseScript.Run(ctx, r.rdb, keys, groupID, clientPrefix).Err(); err != nil {
		return fmt.Errorf("erase group %s: %w", groupID, err)
	}
	return nil
}

func (r *redisRegistry) GroupsOf(ctx context.Context, clientID string) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, clientKey(clientID)).Result()
	if err != nil {
		return nil, fmt.Errorf("groups of %s: %w", clientID, err)
	}
	return ids, nil
}

func (r *redisRegistry) LeaveAll(ctx context.Context, clientID string) ([]string, error) {
	groups, err := leaveAllScript.Run(ctx, r.rdb, []string{clientKey(clientID)}, clientID, groupPrefix).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("leave all groups of %s: %w", clientID, err)
	}
	return groups, nil
}

func clientKeys(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = clientKey(id)
	}
	return out
}

func toArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
