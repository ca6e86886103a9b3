package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pscheid92/unranked/internal/adapter/metrics"
	"github.com/pscheid92/unranked/internal/domain"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 5 * time.Second
)

// envelope wraps every stored value with its schema version.
type envelope struct {
	Version *int            `json:"version"`
	Data    json.RawMessage `json:"data"`
}

type write struct {
	ctx  context.Context
	key  string
	data []byte
}

// Store serializes snapshots into versioned envelopes and writes them to a
// KVStore from a single background writer, so writes for a key land in the
// order they were saved.
type Store struct {
	kv         domain.KVStore
	migrations Migrations
	metrics    *metrics.PersistenceMetrics

	mu      sync.RWMutex
	closed  bool
	writeCh chan write
	done    chan struct{}
}

var _ domain.Saver = (*Store)(nil)

func NewStore(kv domain.KVStore, migrations Migrations, m *metrics.PersistenceMetrics) *Store {
	s := &Store{
		kv:         kv,
		migrations: migrations,
		metrics:    m,
		writeCh:    make(chan write, defaultQueueSize),
		done:       make(chan struct{}),
	}
	go s.writer()
	return s
}

// Save marshals value immediately and queues the write. Failures are logged
// and counted; the caller is never blocked or told.
func (s *Store) Save(ctx context.Context, key string, value any) {
	data, err := s.encode(key, value)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode snapshot", "key", key, "error", err)
		s.metrics.Saves.WithLabelValues(key, metrics.ResultError).Inc()
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		slog.WarnContext(ctx, "Persistence closed, snapshot dropped", "key", key)
		return
	}

	w := write{ctx: context.WithoutCancel(ctx), key: key, data: data}
	select {
	case s.writeCh <- w:
	default:
		slog.ErrorContext(ctx, "Persistence queue full, snapshot dropped", "key", key)
		s.metrics.Saves.WithLabelValues(key, metrics.ResultError).Inc()
	}
}

// Close stops accepting writes and waits for queued ones to finish or ctx to expire.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.writeCh)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("persistence drain: %w", ctx.Err())
	}
}

func (s *Store) writer() {
	defer close(s.done)
	for w := range s.writeCh {
		ctx, cancel := context.WithTimeout(w.ctx, defaultWriteTimeout)
		start := time.Now()
		err := s.kv.Set(ctx, w.key, w.data)
		cancel()

		s.metrics.SaveDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			slog.ErrorContext(w.ctx, "Failed to save snapshot", "key", w.key, "error", err)
			s.metrics.Saves.WithLabelValues(w.key, metrics.ResultError).Inc()
			continue
		}
		s.metrics.Saves.WithLabelValues(w.key, metrics.ResultOK).Inc()
	}
}

func (s *Store) encode(key string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", key, err)
	}
	version := s.migrations.Version(key)
	return json.Marshal(envelope{Version: &version, Data: data})
}

// load fetches and migrates the raw data for key to the current schema version.
func (s *Store) load(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	version, data := 0, json.RawMessage(raw)
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Version != nil && env.Data != nil {
		version, data = *env.Version, env.Data
	}

	return s.migrations.Apply(key, version, data)
}

// LoadOrDefault returns the stored value for key, or def when the key is
// missing or its data cannot be decoded. Both cases are logged, not returned.
func LoadOrDefault[T any](ctx context.Context, s *Store, key string, def T) T {
	data, err := s.load(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		slog.InfoContext(ctx, "No stored data, using default", "key", key)
		s.metrics.Loads.WithLabelValues(key, "missing").Inc()
		return def
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to load stored data, using default", "key", key, "error", err)
		s.metrics.Loads.WithLabelValues(key, "default").Inc()
		return def
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		slog.WarnContext(ctx, "Stored data is corrupt, using default", "key", key, "error", err)
		s.metrics.Loads.WithLabelValues(key, "default").Inc()
		return def
	}

	s.metrics.Loads.WithLabelValues(key, metrics.ResultOK).Inc()
	return v
}
