package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/unranked/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

// BreakerSettings tune the Redis circuit breaker.
type BreakerSettings struct {
	FailureThreshold uint          // failures within Capacity that open the circuit
	Capacity         uint          // size of the rolling execution window
	Delay            time.Duration // time spent open before probing again
	CacheTTL         time.Duration // how long a GET result may serve as fallback
}

var DefaultBreakerSettings = BreakerSettings{
	FailureThreshold: 3,
	Capacity:         5,
	Delay:            30 * time.Second,
	CacheTTL:         5 * time.Minute,
}

// CircuitBreakerHook fails Redis commands fast while the backend is unhealthy.
// While open, GETs are answered from the last value seen for the key, so a
// restart during an outage still loads recent state.
type CircuitBreakerHook struct {
	cb  circuitbreaker.CircuitBreaker[any]
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]cachedValue
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

type cachedValue struct {
	data string
	at   time.Time
}

func NewCircuitBreakerHook(settings BreakerSettings, m *metrics.RedisMetrics) *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(settings.FailureThreshold, settings.Capacity).
		WithDelay(settings.Delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "redis",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if m != nil {
				m.BreakerChanges.WithLabelValues(e.NewState.String()).Inc()
			}
		}).
		Build()

	return &CircuitBreakerHook{
		cb:    cb,
		ttl:   settings.CacheTTL,
		cache: make(map[string]cachedValue),
	}
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.cb.RecordError(err)
			return nil, fmt.Errorf("circuit breaker dial failed: %w", err)
		}
		h.cb.RecordSuccess()
		return conn, nil
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return h.fallback(cmd)
		}

		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, goredis.Nil) {
			h.cb.RecordError(err)
			return fmt.Errorf("circuit breaker process failed: %w", err)
		}
		h.cb.RecordSuccess()
		h.remember(cmd)
		return err
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
		}
		err := next(ctx, cmds)
		if err != nil {
			h.cb.RecordError(err)
			return fmt.Errorf("circuit breaker pipeline failed: %w", err)
		}
		h.cb.RecordSuccess()
		return nil
	}
}

func (h *CircuitBreakerHook) fallback(cmd goredis.Cmder) error {
	if c, ok := cmd.(*goredis.StringCmd); ok && cmd.Name() == "get" {
		if value, ok := h.lookup(cacheKey(cmd)); ok {
			slog.Debug("Circuit breaker open, serving from cache", "key", cacheKey(cmd))
			c.SetVal(value)
			return nil
		}
		return fmt.Errorf("redis circuit breaker open and no cached value: %w", circuitbreaker.ErrOpen)
	}
	if cmd.Name() == "set" {
		slog.Warn("Circuit breaker open for write operation", "key", cacheKey(cmd))
	}
	return fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
}

// remember records GET results and SET payloads as fallback values.
func (h *CircuitBreakerHook) remember(cmd goredis.Cmder) {
	args := cmd.Args()
	if len(args) < 2 {
		return
	}

	var value string
	switch c := cmd.(type) {
	case *goredis.StringCmd:
		if cmd.Name() != "get" || c.Err() != nil {
			return
		}
		value = c.Val()
	case *goredis.StatusCmd:
		if cmd.Name() != "set" || len(args) < 3 {
			return
		}
		switch v := args[2].(type) {
		case string:
			value = v
		case []byte:
			value = string(v)
		default:
			return
		}
	default:
		return
	}

	h.mu.Lock()
	h.cache[cacheKey(cmd)] = cachedValue{data: value, at: time.Now()}
	h.mu.Unlock()
}

func (h *CircuitBreakerHook) lookup(key string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cached, ok := h.cache[key]
	if !ok || time.Since(cached.at) > h.ttl {
		return "", false
	}
	return cached.data, true
}

func cacheKey(cmd goredis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return ""
	}
	return fmt.Sprint(args[1])
}

func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}
