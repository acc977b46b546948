package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Without an initialized connection every operation must degrade silently.
func TestGracefulFallback_NotConnected(t *testing.T) {
	ctx := context.Background()

	assert.False(t, IsAvailable())
	assert.Nil(t, Client())
	assert.Equal(t, "", CacheGet(ctx, KeyCache+"intent:abc"))
	assert.False(t, CacheSet(ctx, KeyCache+"k", "v", time.Minute))
	assert.False(t, CacheSetJSON(ctx, KeyTrace+"q", map[string]any{"agent": "model"}, time.Minute))
}

func TestInit_EmptyURL(t *testing.T) {
	assert.False(t, Init(Config{}))
	assert.False(t, IsAvailable())
}

func TestInit_InvalidURL(t *testing.T) {
	assert.False(t, Init(Config{URL: "not a url"}))
	assert.False(t, IsAvailable())
}

func TestCacheSetJSON_UnmarshalableValue(t *testing.T) {
	assert.False(t, CacheSetJSON(context.Background(), KeyCache+"bad", func() {}, time.Minute))
}
