package cache

import (
	"context"
	"strings"
	"time"

	"github.com/flowglad/flowglad/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// InvalidationChannel is the pub/sub channel other replicas subscribe to.
const InvalidationChannel = "flowglad:cache:invalidate"

// Invalidator purges cached read results. Called strictly after commit;
// failures are logged, not propagated, because the business writes are
// already durable.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string)
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// NewInvalidator returns a redis-backed invalidator when redis is
// configured, otherwise an in-process one.
func NewInvalidator(p Params) Invalidator {
	if strings.TrimSpace(p.Cfg.RedisAddr) == "" {
		return &localInvalidator{log: p.Log.Named("cache.invalidator")}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     p.Cfg.RedisAddr,
		Password: p.Cfg.RedisPassword,
	})
	return &redisInvalidator{
		log:    p.Log.Named("cache.invalidator"),
		client: client,
	}
}

type redisInvalidator struct {
	log    *zap.Logger
	client *redis.Client
}

func (r *redisInvalidator) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	purgeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.client.Del(purgeCtx, keys...).Err(); err != nil {
		r.log.Warn("cache purge", zap.Strings("keys", keys), zap.Error(err))
	}
	for _, key := range keys {
		if err := r.client.Publish(purgeCtx, InvalidationChannel, key).Err(); err != nil {
			r.log.Warn("cache invalidation publish", zap.String("key", key), zap.Error(err))
		}
	}
}

type localInvalidator struct {
	log *zap.Logger
}

func (l *localInvalidator) Invalidate(_ context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	l.log.Debug("cache invalidate", zap.Strings("keys", keys))
}

var Module = fx.Module("cache",
	fx.Provide(NewInvalidator),
)
