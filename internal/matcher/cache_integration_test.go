//go:build integration

package matcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) *redis.Client {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisCacheRoundTrip(t *testing.T) {
	client := setupRedis(t)
	if client == nil {
		return
	}
	ctx := context.Background()
	cache := NewRedisCache(client)

	if _, err := cache.Get(ctx, "missing"); !errors.Is(err, redis.Nil) {
		t.Fatalf("Expected redis.Nil for missing key, got %v", err)
	}

	svc := &stubService{similarities: []float64{0.87}}
	caching := NewCachingService(svc, cache, time.Minute, zap.NewNop())
	req := CompareRequest{Passport: []byte("passport"), Selfie: []byte("selfie")}

	for i := 0; i < 2; i++ {
		cmp, err := caching.Compare(ctx, req)
		if err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if len(cmp.Similarities) != 1 || cmp.Similarities[0] != 0.87 {
			t.Fatalf("Unexpected comparison %+v", cmp)
		}
	}
	if len(svc.requests) != 1 {
		t.Errorf("Expected one service call, got %d", len(svc.requests))
	}

	ttl, err := client.TTL(ctx, CacheKey(req)).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected TTL within a minute, got %s", ttl)
	}
}
