//go:build integration

package cache_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jonesrussell/north-cloud/avd-crawler/internal/cache"
)

const redisStartupTimeout = 60 * time.Second

func TestRedisStore_Integration(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(redisStartupTimeout),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := cache.NewRedisClient(ctx, cache.RedisConfig{Addr: net.JoinHostPort(host, port.Port())})
	require.NoError(t, err)

	clock := newFakeClock()
	store := cache.NewRedisStore(client, testTTL, cache.WithClock(clock.Now))
	t.Cleanup(func() { _ = store.Close() })

	assertTTLContract(t, store, clock)
}
