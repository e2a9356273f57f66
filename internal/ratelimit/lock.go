package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while our token is still in it, so a
// holder whose TTL already lapsed cannot release a successor's lock.
const releaseScript = `
local held = redis.call("GET", KEYS[1])
if held == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

// Locker hands out expiring single-holder locks within one key namespace.
// Names are scoped under the prefix given at construction, so two lockers
// with different prefixes never contend.
type Locker struct {
	client  *redis.Client
	release *redis.Script
	prefix  string
}

func NewLocker(client *redis.Client, prefix string) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client:  client,
		release: redis.NewScript(releaseScript),
		prefix:  prefix,
	}
}

func (l *Locker) key(name string) string {
	if l.prefix == "" {
		return name
	}
	return l.prefix + ":" + name
}

// TryLock attempts to take the named lock for ttl. On success it returns
// the token that authorizes release; acquired is false when another holder
// has the lock.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (token string, acquired bool, err error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if name == "" {
		return "", false, errors.New("lock name is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token = uuid.NewString()
	acquired, err = l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, acquired, nil
}

// Release gives the named lock up. Calls with a stale or foreign token are
// no-ops on the redis side.
func (l *Locker) Release(ctx context.Context, name, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if name == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{l.key(name)}, token).Err()
}
