package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"lokapasar/pkg/logger"
)

// redisTracker implements Tracker over a shared Redis instance so presence
// survives across processes. Entries carry a TTL; a crashed process's state
// ages out instead of leaking. Presence is an acceptable-loss domain, so all
// failures are logged and treated as "not present" rather than propagated.
type redisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) Tracker {
	return &redisTracker{
		client: client,
		ttl:    ttl,
	}
}

func userKey(userID string) string         { return "presence:user:" + userID }
func roomKey(conversationID string) string { return "presence:room:" + conversationID }
func connKey(connID string) string         { return "presence:conn:" + connID }

func (t *redisTracker) AddConnection(ctx context.Context, userID, connID string) bool {
	key := userKey(userID)

	before, err := t.client.SCard(ctx, key).Result()
	if err != nil {
		logger.Warn("presence: failed to read connection set for %s: %v", userID, err)
		before = 0
	}

	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("presence: failed to register connection %s for %s: %v", connID, userID, err)
	}

	return before == 0
}

func (t *redisTracker) RemoveConnection(ctx context.Context, userID, connID string) bool {
	key := userKey(userID)

	pipe := t.client.TxPipeline()
	pipe.SRem(ctx, key, connID)
	remaining := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("presence: failed to unregister connection %s for %s: %v", connID, userID, err)
		return false
	}

	return remaining.Val() == 0
}

func (t *redisTracker) IsUserOnline(ctx context.Context, userID string) bool {
	count, err := t.client.SCard(ctx, userKey(userID)).Result()
	if err != nil {
		logger.Warn("presence: failed to check online status for %s: %v", userID, err)
		return false
	}
	return count > 0
}

func (t *redisTracker) JoinRoom(ctx context.Context, conversationID, userID, connID string) {
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, roomKey(conversationID), connID, userID)
	pipe.Expire(ctx, roomKey(conversationID), t.ttl)
	pipe.SAdd(ctx, connKey(connID), conversationID)
	pipe.Expire(ctx, connKey(connID), t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("presence: failed to join room %s for conn %s: %v", conversationID, connID, err)
	}
}

func (t *redisTracker) LeaveRoom(ctx context.Context, conversationID, connID string) {
	pipe := t.client.TxPipeline()
	pipe.HDel(ctx, roomKey(conversationID), connID)
	pipe.SRem(ctx, connKey(connID), conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("presence: failed to leave room %s for conn %s: %v", conversationID, connID, err)
	}
}

func (t *redisTracker) LeaveAllRooms(ctx context.Context, connID string) []string {
	rooms, err := t.client.SMembers(ctx, connKey(connID)).Result()
	if err != nil {
		logger.Warn("presence: failed to list rooms for conn %s: %v", connID, err)
		return nil
	}

	pipe := t.client.TxPipeline()
	for _, conversationID := range rooms {
		pipe.HDel(ctx, roomKey(conversationID), connID)
	}
	pipe.Del(ctx, connKey(connID))
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("presence: failed to prune rooms for conn %s: %v", connID, err)
	}

	return rooms
}

func (t *redisTracker) RoomMembers(ctx context.Context, conversationID string) []string {
	entries, err := t.client.HGetAll(ctx, roomKey(conversationID)).Result()
	if err != nil {
		logger.Warn("presence: failed to list room members for %s: %v", conversationID, err)
		return nil
	}

	seen := make(map[string]struct{})
	var members []string
	for _, userID := range entries {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		members = append(members, userID)
	}
	return members
}

func (t *redisTracker) UserInRoom(ctx context.Context, conversationID, userID string) bool {
	for _, member := range t.RoomMembers(ctx, conversationID) {
		if member == userID {
			return true
		}
	}
	return false
}
