//go:build integration

package containers

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer is a bare redis server plus a client connected to it.
type RedisContainer struct {
	Container testcontainers.Container
	Addr      string
	Client    *redis.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	rc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	endpoint, err := rc.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		_ = rc.Terminate(ctx)
		t.Fatalf("redis endpoint: %v", err)
	}
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		_ = rc.Terminate(ctx)
		t.Fatalf("redis endpoint %q: %v", endpoint, err)
	}
	return &RedisContainer{
		Container: rc,
		Addr:      endpoint,
		Client:    redis.NewClient(&redis.Options{Addr: endpoint}),
	}
}
