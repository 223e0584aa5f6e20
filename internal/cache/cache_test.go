package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Cache = (*Redis)(nil)
	_ Cache = (*Memory)(nil)
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	value := []byte("v1")
	require.NoError(t, m.Set(ctx, "k", value, time.Minute))
	require.NoError(t, m.Set(ctx, "forever", []byte("v2"), 0))
	value[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	now = now.Add(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 1, m.Len())

	got, err = m.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
}

// TestRedis runs against REDIS_ADDR when it is set.
func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}

	c := NewRedis(client)
	key := "elite:test:" + time.Now().Format(time.RFC3339Nano)
	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)
	require.NoError(t, c.Set(ctx, key, []byte("v"), time.Minute))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
	client.Del(ctx, key)
}
