package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	presenceNodesKey = "presence:nodes"
	// PresenceNodeTTL must exceed the hub's health-check interval so a live
	// node always refreshes its set before it expires.
	PresenceNodeTTL = 90 * time.Second
)

// PresenceCache mirrors each node's online users into Redis so that the
// online list pushed to clients covers the whole cluster. The in-process hub
// stays authoritative for delivery. A nil cache is a valid no-op cache.
type PresenceCache struct {
	redis  *RedisCache
	nodeID string
}

func NewPresenceCache(redis *RedisCache, nodeID string) *PresenceCache {
	return &PresenceCache{redis: redis, nodeID: nodeID}
}

func presenceNodeKey(nodeID string) string {
	return fmt.Sprintf("presence:node:%s", nodeID)
}

func (pc *PresenceCache) SetOnline(ctx context.Context, userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	key := presenceNodeKey(pc.nodeID)
	pipe := pc.redis.client.TxPipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, PresenceNodeTTL)
	pipe.SAdd(ctx, presenceNodesKey, pc.nodeID)
	_, err := pipe.Exec(ctx)
	return err
}

func (pc *PresenceCache) SetOffline(ctx context.Context, userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	return pc.redis.client.SRem(ctx, presenceNodeKey(pc.nodeID), userID).Err()
}

// Refresh replaces this node's set with the users it currently holds.
func (pc *PresenceCache) Refresh(ctx context.Context, userIDs []uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	key := presenceNodeKey(pc.nodeID)
	pipe := pc.redis.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(userIDs) > 0 {
		members := make([]interface{}, len(userIDs))
		for i, id := range userIDs {
			members[i] = id
		}
		pipe.SAdd(ctx, key, members...)
		pipe.Expire(ctx, key, PresenceNodeTTL)
	}
	pipe.SAdd(ctx, presenceNodesKey, pc.nodeID)
	_, err := pipe.Exec(ctx)
	return err
}

// OnlineUsers returns the union over every live node, sorted.
func (pc *PresenceCache) OnlineUsers(ctx context.Context) ([]uint, error) {
	if pc == nil || pc.redis == nil {
		return nil, nil
	}
	nodes, err := pc.redis.client.SMembers(ctx, presenceNodesKey).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(nodes))
	for _, node := range nodes {
		key := presenceNodeKey(node)
		if !pc.redis.Exists(ctx, key) {
			// Node went away without cleaning up; forget it.
			pc.redis.client.SRem(ctx, presenceNodesKey, node)
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return []uint{}, nil
	}

	members, err := pc.redis.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(members))
	for _, member := range members {
		if id, err := strconv.ParseUint(member, 10, 32); err == nil {
			ids = append(ids, uint(id))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Leave removes this node's set on shutdown.
func (pc *PresenceCache) Leave(ctx context.Context) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	pipe := pc.redis.client.TxPipeline()
	pipe.Del(ctx, presenceNodeKey(pc.nodeID))
	pipe.SRem(ctx, presenceNodesKey, pc.nodeID)
	_, err := pipe.Exec(ctx)
	return err
}
