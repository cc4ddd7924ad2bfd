package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/cuemby/forager/pkg/types"
)

// RedisConfig holds connection settings for the networked backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisStore is a Store backed by a Redis server. The connection is
// pooled by the client; the server is health-checked on first use.
type RedisStore struct {
	opts   Options
	client *redis.Client

	pingOnce sync.Once
	pingErr  error
}

// NewRedisStore creates a Redis-backed store. No connection is made
// until the first operation.
func NewRedisStore(cfg RedisConfig, opts Options) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return &RedisStore{opts: opts, client: client}
}

func (s *RedisStore) healthCheck(ctx context.Context) error {
	s.pingOnce.Do(func() {
		if err := s.client.Ping(ctx).Err(); err != nil {
			s.pingErr = fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
		}
	})
	return s.pingErr
}

func (s *RedisStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := s.healthCheck(ctx); err != nil {
		return err
	}
	data, err := s.opts.serializer().Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.opts.fullKey(key), data, s.opts.effectiveTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := s.healthCheck(ctx); err != nil {
		return false, err
	}
	data, err := s.client.Get(ctx, s.opts.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	if err := s.opts.serializer().Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.healthCheck(ctx); err != nil {
		return false, err
	}
	n, err := s.client.Del(ctx, s.opts.fullKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.healthCheck(ctx); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.opts.fullKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	return n > 0, nil
}

// RangeGet scans with MATCH and sorts client-side. Redis SCAN has no
// ordering guarantee, so the ascending-key contract is enforced here.
func (s *RedisStore) RangeGet(ctx context.Context, start, end string, limit int) ([]Pair, error) {
	if err := s.healthCheck(ctx); err != nil {
		return nil, err
	}

	match := "*"
	if s.opts.Prefix != "" {
		match = s.opts.Prefix + ":*"
	}

	fullStart := s.opts.fullKey(start)
	fullEnd := ""
	if end != "" {
		fullEnd = s.opts.fullKey(end)
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, match, 256).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if k < fullStart {
			continue
		}
		if fullEnd != "" && k >= fullEnd {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}

	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}

	pairs := make([]Pair, 0, len(keys))
	for i, k := range keys {
		str, ok := values[i].(string)
		if !ok {
			// Key expired between SCAN and MGET.
			continue
		}
		pairs = append(pairs, Pair{Key: s.stripPrefix(k), Value: []byte(str)})
	}
	return pairs, nil
}

func (s *RedisStore) stripPrefix(full string) string {
	if s.opts.Prefix == "" {
		return full
	}
	return full[len(s.opts.Prefix)+1:]
}

func (s *RedisStore) DecodeInto(data []byte, out any) error {
	return s.opts.serializer().Unmarshal(data, out)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
