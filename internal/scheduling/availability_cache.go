package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultAvailabilityTTL = time.Hour

// RedisAvailabilityCache caches availability maps under doctor_availability:{id}.
type RedisAvailabilityCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisAvailabilityCache(client *redis.Client, ttl time.Duration) *RedisAvailabilityCache {
	if client == nil {
		panic("scheduling: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultAvailabilityTTL
	}
	return &RedisAvailabilityCache{redis: client, ttl: ttl}
}

func (c *RedisAvailabilityCache) key(doctorID uuid.UUID) string {
	return fmt.Sprintf("doctor_availability:%s", doctorID)
}

func (c *RedisAvailabilityCache) Get(ctx context.Context, doctorID uuid.UUID) (Availability, bool, error) {
	data, err := c.redis.Get(ctx, c.key(doctorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scheduling: cache get: %w", err)
	}
	var availability Availability
	if err := json.Unmarshal(data, &availability); err != nil {
		return nil, false, fmt.Errorf("scheduling: cache decode: %w", err)
	}
	if availability == nil {
		availability = Availability{}
	}
	return availability, true, nil
}

func (c *RedisAvailabilityCache) Set(ctx context.Context, doctorID uuid.UUID, availability Availability) error {
	data, err := json.Marshal(availability)
	if err != nil {
		return fmt.Errorf("scheduling: cache encode: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(doctorID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("scheduling: cache set: %w", err)
	}
	return nil
}

func (c *RedisAvailabilityCache) Invalidate(ctx context.Context, doctorID uuid.UUID) error {
	if err := c.redis.Del(ctx, c.key(doctorID)).Err(); err != nil {
		return fmt.Errorf("scheduling: cache invalidate: %w", err)
	}
	return nil
}
