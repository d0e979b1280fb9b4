//go:build integration

package redisstore_test

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// setupRedisContainer starts a disposable Redis for the store's
// integration tests and returns a client connected to it.
func setupRedisContainer(t *testing.T, ctx context.Context) *goredis.Client {
	t.Helper()

	container, err := testcontainersredis.Run(ctx,
		"redis:7-alpine",
		testcontainersredis.WithSnapshotting(10, 1),
	)
	require.NoError(t, err, "failed to start Redis container")

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")
	if len(addr) > 8 && addr[:8] == "redis://" {
		addr = addr[8:]
	}

	time.Sleep(500 * time.Millisecond)

	client := goredis.NewClient(&goredis.Options{Addr: addr})

	t.Cleanup(func() {
		client.Close()
		_ = container.Terminate(ctx)
	})

	return client
}
