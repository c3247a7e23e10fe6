package matcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kozaktomas/facecheck/internal/logging"
)

// Cache abstracts the Redis operations used by CachingService to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis. A miss is reported as redis.Nil.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, key).Bytes()
}

type cachedComparison struct {
	Similarities []float64 `cbor:"1,keyasint"`
	CachedAt     int64     `cbor:"2,keyasint"`
}

// CachingService remembers raw comparisons per image pair so reruns over unchanged
// folders do not hit the face service again. Only raw similarities are cached; the
// threshold decision is always made fresh by the Invoker.
type CachingService struct {
	next           Service
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewCachingService wraps next with a comparison cache.
func NewCachingService(next Service, cache Cache, ttl time.Duration, logger *zap.Logger) *CachingService {
	return &CachingService{
		next:           next,
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("match_cache"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// CacheKey builds the cache key for a comparison request.
func CacheKey(req CompareRequest) string {
	p := sha1.Sum(req.Passport)
	s := sha1.Sum(req.Selfie)
	mode := ModeSingle
	if req.DetectAll {
		mode = ModeBest
	}
	return fmt.Sprintf("facecheck:compare:%s:%s:%s", mode, hex.EncodeToString(p[:]), hex.EncodeToString(s[:]))
}

// Compare returns a cached comparison when present, otherwise calls the wrapped service
// and stores its answer. Cache failures never fail the comparison.
func (c *CachingService) Compare(ctx context.Context, req CompareRequest) (*Comparison, error) {
	key := CacheKey(req)
	opLogger := logging.WithOperation(c.logger, "cache.compare", "")

	var raw []byte
	err := c.withRetry(ctx, "cache.get", func() error {
		value, err := c.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	switch {
	case err == nil:
		var cached cachedComparison
		if decodeErr := cbor.Unmarshal(raw, &cached); decodeErr == nil && len(cached.Similarities) > 0 {
			return &Comparison{Similarities: cached.Similarities}, nil
		} else if decodeErr != nil {
			opLogger.Warn("failed to decode cached comparison", zap.Error(decodeErr))
		}
	case errors.Is(err, redis.Nil):
	default:
		opLogger.Warn("failed to read comparison cache", zap.Error(err))
	}

	cmp, err := c.next.Compare(ctx, req)
	if err != nil {
		return nil, err
	}

	encoded, err := cbor.Marshal(cachedComparison{Similarities: cmp.Similarities, CachedAt: time.Now().Unix()})
	if err != nil {
		opLogger.Warn("failed to encode comparison", zap.Error(err))
		return cmp, nil
	}
	if err := c.withRetry(ctx, "cache.set", func() error {
		return c.cache.Set(ctx, key, encoded, c.ttl)
	}); err != nil {
		opLogger.Warn("failed to cache comparison", zap.Error(err))
	}
	return cmp, nil
}

// Crop is never cached.
func (c *CachingService) Crop(ctx context.Context, image []byte) ([]byte, error) {
	return c.next.Crop(ctx, image)
}

func (c *CachingService) withRetry(ctx context.Context, operation string, fn func() error) error {
	backoff := c.initialBackoff
	opLogger := logging.WithOperation(c.logger, operation, "")
	attempts := max(c.retryAttempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= c.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) {
			return logging.NewOperationError(operation, "", err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.RetriesExhausted(operation, attempts, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
