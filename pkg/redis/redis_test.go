package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tradeflow/pkg/config"
)

func TestNew_Disabled(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestCache_DisabledIsNoop(t *testing.T) {
	cache := NewCache(Disabled(), "test")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", map[string]int{"a": 1}, time.Minute))

	var dest map[string]int
	found, err := cache.Get(ctx, "k", &dest)
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.Delete(ctx, "k"))
	assert.False(t, cache.Enabled())
}

func TestFrameKey(t *testing.T) {
	assert.Equal(t, "frame:AAPL:2024-01-31", FrameKey("AAPL", "2024-01-31"))
}

func TestCache_RoundTrip(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set, skipping integration test")
	}

	ctx := context.Background()
	client, err := New(ctx, config.RedisConfig{Host: host, Port: "6379", Enabled: true})
	require.NoError(t, err)
	defer client.Close()

	cache := NewCache(client, "tradeflow-test")
	require.NoError(t, cache.Set(ctx, "rt", []float64{1.5, 2.5}, time.Minute))

	var dest []float64
	found, err := cache.Get(ctx, "rt", &dest)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []float64{1.5, 2.5}, dest)
	require.NoError(t, cache.Delete(ctx, "rt"))
}
