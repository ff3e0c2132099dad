//go:build integration

package duplicates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cache, err := NewRedisCache(ctx, "redis://"+host+":"+port.Port()+"/0")
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get(ctx, cacheKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, cacheKey, []byte(`[]`), 50*time.Millisecond))
	value, ok, err := cache.Get(ctx, cacheKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", string(value))

	require.Eventually(t, func() bool {
		_, ok, err := cache.Get(ctx, cacheKey)
		return err == nil && !ok
	}, 2*time.Second, 20*time.Millisecond)
}
