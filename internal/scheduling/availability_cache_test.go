package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisAvailabilityCache(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisAvailabilityCache(client, 0)
	ctx := context.Background()
	doctorID := uuid.New()

	_, ok, err := cache.Get(ctx, doctorID)
	require.NoError(t, err)
	assert.False(t, ok, "miss on empty cache")

	want := Availability{"2025-06-01": {"10:00", "10:30"}}
	require.NoError(t, cache.Set(ctx, doctorID, want))

	key := "doctor_availability:" + doctorID.String()
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, ok, err := cache.Get(ctx, doctorID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, cache.Invalidate(ctx, doctorID))
	assert.False(t, mr.Exists(key))

	require.NoError(t, cache.Set(ctx, doctorID, want))
	mr.FastForward(2 * time.Hour)
	_, ok, err = cache.Get(ctx, doctorID)
	require.NoError(t, err)
	assert.False(t, ok, "entries expire after the ttl")
}

func TestRedisAvailabilityCacheCorruptEntry(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisAvailabilityCache(client, time.Minute)
	doctorID := uuid.New()
	require.NoError(t, mr.Set("doctor_availability:"+doctorID.String(), "not-json"))

	_, _, err := cache.Get(context.Background(), doctorID)
	assert.Error(t, err)
}
