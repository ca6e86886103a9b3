package redis

import (
	"context"
	"fmt"

	"github.com/pscheid92/unranked/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// NewClient connects to redisURL, installs the metrics and circuit breaker
// hooks and verifies the connection with a PING.
func NewClient(ctx context.Context, redisURL string, m *metrics.RedisMetrics, breaker *CircuitBreakerHook) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	if m != nil {
		rdb.AddHook(&MetricsHook{metrics: m})
	}
	if breaker != nil {
		rdb.AddHook(breaker)
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return rdb, nil
}
