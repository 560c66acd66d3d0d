package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reviewpulse/platform/pkg/common/config"
	"github.com/reviewpulse/platform/pkg/common/logger"
)

// NewRedis connects the optional status snapshot cache. Returns nil
// when no address is configured; callers treat a nil client as
// cache-disabled.
func NewRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.WithError(err).Warn("Redis unreachable, status cache disabled")
		_ = client.Close()
		return nil
	}

	logger.Log.Info("Connected to Redis")
	return client
}

func CloseRedis(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
