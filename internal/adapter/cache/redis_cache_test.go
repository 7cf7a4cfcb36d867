package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/olyamironova/paper-engine/internal/port/porttest"
	"github.com/stretchr/testify/require"
)

// Runs against the server named by PAPER_TEST_REDIS_ADDR, using DB 15.
func TestRedisCache(t *testing.T) {
	addr := os.Getenv("PAPER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PAPER_TEST_REDIS_ADDR not set")
	}
	c := NewRedisCache(addr, "", 15, time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()))

	porttest.RunCache(t, c)
}

func TestKey(t *testing.T) {
	require.Equal(t, "paper:account:acct-1", key("acct-1"))
}
