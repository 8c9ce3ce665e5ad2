package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vkomlev/LMS/internal/pkg/logger"
)

// RedisIdempotencyCache shares claim outcomes across instances. Use it when
// more than one engine process serves the same queue.
type RedisIdempotencyCache struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

func NewRedisIdempotencyCache(log *logger.Logger) (*RedisIdempotencyCache, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisIdempotencyCache{
		log:    log.With("service", "RedisIdempotencyCache"),
		rdb:    rdb,
		prefix: "claim:idem:",
	}, nil
}

func (c *RedisIdempotencyCache) Lookup(ctx context.Context, key string) (*ClaimOutcome, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var outcome ClaimOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		// A corrupt entry behaves like a miss; the claim path re-stores it.
		c.log.Warn("dropping unreadable idempotency entry", "key", key, "error", err)
		_ = c.rdb.Del(ctx, c.prefix+key).Err()
		return nil, false, nil
	}
	return &outcome, true, nil
}

func (c *RedisIdempotencyCache) Store(ctx context.Context, key string, outcome *ClaimOutcome, ttl time.Duration) error {
	if key == "" || outcome == nil || ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, raw, ttl).Err()
}

func (c *RedisIdempotencyCache) Close() error {
	return c.rdb.Close()
}
