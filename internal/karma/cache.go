package karma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/emilythestrangee/discuss/backend/internal/models"
)

// Cache holds recently computed profiles.
type Cache interface {
	Get(ctx context.Context, userID int) (*models.KarmaProfile, bool, error)
	Set(ctx context.Context, profile *models.KarmaProfile) error
}

// RedisCache stores profiles as JSON strings that expire after ttl.
type RedisCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *goredis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func cacheKey(userID int) string {
	return fmt.Sprintf("karma:user:%d", userID)
}

func (c *RedisCache) Get(ctx context.Context, userID int) (*models.KarmaProfile, bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read karma cache: %w", err)
	}

	var profile models.KarmaProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached karma: %w", err)
	}
	return &profile, true, nil
}

func (c *RedisCache) Set(ctx context.Context, profile *models.KarmaProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode karma: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(profile.UserID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write karma cache: %w", err)
	}
	return nil
}
