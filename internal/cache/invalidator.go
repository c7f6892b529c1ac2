package cache

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/your-org/faceprofiles/internal/config"
)

// UserKeys lists the cached views that hold a user's face data.
func UserKeys(userID uuid.UUID) []string {
	id := userID.String()
	return []string{
		"user_face_data:" + id,
		"user:" + id,
	}
}

type deleter interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisInvalidator drops a user's cached views after a profile mutation.
// It never writes cache entries.
type RedisInvalidator struct {
	client deleter
}

// NewRedisClient connects to cfg.URL. It returns nil, nil when no URL is configured.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func NewRedisInvalidator(client *redis.Client) *RedisInvalidator {
	return &RedisInvalidator{client: client}
}

func (r *RedisInvalidator) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.Del(ctx, UserKeys(userID)...).Err(); err != nil {
		return fmt.Errorf("invalidate user %s: %w", userID, err)
	}
	return nil
}

func (r *RedisInvalidator) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
