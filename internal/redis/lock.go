package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockNotAcquired = errors.New("conversation lock not acquired")

// ConversationLocker hands out short-lived per-conversation locks so webhook
// deliveries for the same (tenant, phone) pair are processed one at a time.
type ConversationLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewConversationLocker(client *redis.Client, ttl time.Duration) *ConversationLocker {
	return &ConversationLocker{client: client, ttl: ttl}
}

// Acquire takes the lock for key. ok=false means another delivery holds it;
// the caller should drop the payload and let the gateway redeliver.
func (l *ConversationLocker) Acquire(ctx context.Context, key string) (release func(), ok bool, err error) {
	redisKey := "lock:" + key
	token := uuid.NewString()

	ok, err = l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire conversation lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func() {
		// Release only our own token. The TTL already expired the lock if
		// processing outlived it; deleting blindly could drop a newer holder.
		_, _ = unlockScript.Run(context.Background(), l.client, []string{redisKey}, token).Result()
	}
	return release, true, nil
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)
