package rediscache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

func TestKeyIsStable(t *testing.T) {
	require.Equal(t, Key("https://arxiv.org/search?q=1"), Key(" https://arxiv.org/search?q=1 "))
	require.NotEqual(t, Key("https://arxiv.org/search?q=1"), Key("https://arxiv.org/search?q=2"))
	require.Len(t, Key("x"), 32)
}

func TestLinkCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}
	c, err := NewLinkCache(logger.NewNop(), addr, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	page := "https://arxiv.org/search/advanced?test=" + time.Now().Format(time.RFC3339Nano)

	_, ok, err := c.Get(ctx, page)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, page, []string{"https://arxiv.org/pdf/1"}))
	links, ok, err := c.Get(ctx, page)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"https://arxiv.org/pdf/1"}, links)
}
