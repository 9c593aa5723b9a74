package db

import (
	"context"
	"time"

	"marketplace/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ConnectRedis returns nil when redis cannot be reached; callers treat a nil
// client as "no cross-instance locking".
func ConnectRedis(cfg config.Config, logger logrus.FieldLogger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis unavailable, continuing without distributed locks")
		_ = client.Close()
		return nil
	}
	logger.WithField("addr", cfg.RedisAddr).Info("redis connection established")
	return client
}
