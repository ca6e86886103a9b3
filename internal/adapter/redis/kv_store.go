package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/pscheid92/unranked/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "unranked:kv:"

// KVStore keeps each persisted key as a plain Redis string.
type KVStore struct {
	rdb *goredis.Client
}

var _ domain.KVStore = (*KVStore)(nil)

func NewKVStore(rdb *goredis.Client) *KVStore {
	return &KVStore{rdb: rdb}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis key %q: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return data, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, keyPrefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// Ping reports whether Redis is reachable. Used by the readiness probe.
func (s *KVStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
