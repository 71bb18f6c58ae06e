package services

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultSessionGuardTTL = 10 * time.Minute

// Deletes the key only if it still holds our session id.
var releaseSessionScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSessionGuard keeps one active alert session per user across backend
// instances. The TTL frees the slot if an instance dies mid-session.
type RedisSessionGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionGuard(client *redis.Client, ttl time.Duration) *RedisSessionGuard {
	if ttl <= 0 {
		ttl = defaultSessionGuardTTL
	}
	return &RedisSessionGuard{client: client, ttl: ttl}
}

func (g *RedisSessionGuard) Acquire(ctx context.Context, userID, sessionID string) (bool, error) {
	return g.client.SetNX(ctx, sessionGuardKey(userID), sessionID, g.ttl).Result()
}

func (g *RedisSessionGuard) Release(ctx context.Context, userID, sessionID string) error {
	return releaseSessionScript.Run(ctx, g.client, []string{sessionGuardKey(userID)}, sessionID).Err()
}

func sessionGuardKey(userID string) string {
	return "sos:active:" + userID
}
