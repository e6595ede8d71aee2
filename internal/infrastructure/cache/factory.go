package cache

import (
	"context"
	"time"

	appallocation "github.com/katecvn/backoffice/internal/application/allocation"
	"github.com/katecvn/backoffice/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backends bundles the lot store and submit guard chosen for a deployment
type Backends struct {
	LotStore    LotStore
	SubmitGuard appallocation.SubmitGuard

	redis  *redis.Client
	memory *InMemoryLotStore
}

// NewBackends connects to Redis when configured and falls back to in-memory
// implementations otherwise. When Redis is configured but unreachable the
// fallback is only taken if allowFallback is set.
func NewBackends(ctx context.Context, cfg config.RedisConfig, allowFallback bool, logger *zap.Logger) (*Backends, error) {
	if cfg.Enabled() {
		client, err := NewRedisClient(ctx, cfg)
		if err == nil {
			logger.Info("Using Redis lot cache and submit guard", zap.String("addr", cfg.Addr()))
			return &Backends{
				LotStore:    NewRedisLotStore(client, ""),
				SubmitGuard: NewRedisSubmitGuard(client),
				redis:       client,
			}, nil
		}
		if !allowFallback {
			return nil, err
		}
		logger.Warn("Redis unavailable, falling back to in-memory lot cache and submit guard. "+
			"Commits are then only serialized within this process.",
			zap.Error(err),
		)
	}

	memory := NewInMemoryLotStore(time.Minute)
	return &Backends{
		LotStore:    memory,
		SubmitGuard: NewInMemorySubmitGuard(),
		memory:      memory,
	}, nil
}

// Ping checks the Redis connection; in-memory backends are always healthy
func (b *Backends) Ping(ctx context.Context) error {
	if b.redis == nil {
		return nil
	}
	return b.redis.Ping(ctx).Err()
}

// Close releases the Redis client or stops the in-memory cleanup loop
func (b *Backends) Close() error {
	if b.redis != nil {
		return b.redis.Close()
	}
	if b.memory != nil {
		return b.memory.Close()
	}
	return nil
}
