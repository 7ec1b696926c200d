package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares generations across gateway replicas and survives restarts.
// With a TTL, an expired generation reads as 0 and the entries it guarded
// self-heal on the next read.
type RedisGenStore struct {
	rdb         redis.UniversalClient
	ns          string
	ttl         time.Duration
	closeClient bool
}

var _ GenStore = (*RedisGenStore)(nil)

type RedisConfig struct {
	Client    redis.UniversalClient
	Namespace string        // should match the gateway namespace
	TTL       time.Duration // 0 disables expiry; use at least the view TTL
	// CloseClient closes Client on Close; leave false when the client is shared
	// with the redis provider or the stream bus.
	CloseClient bool
}

func NewRedisGenStore(cfg RedisConfig) *RedisGenStore {
	return &RedisGenStore{rdb: cfg.Client, ns: cfg.Namespace, ttl: cfg.TTL, closeClient: cfg.CloseClient}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, storageKey string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(storageKey)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// Bump increments the generation. When a TTL is set, INCR and EXPIRE are
// pipelined in a single round-trip.
func (s *RedisGenStore) Bump(ctx context.Context, storageKey string) (uint64, error) {
	k := s.key(storageKey)
	if s.ttl <= 0 {
		return s.rdb.Incr(ctx, k).Uint64()
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Cleanup is not applicable; redis expires keys itself when TTL is set.
func (s *RedisGenStore) Cleanup(time.Duration) {}

func (s *RedisGenStore) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
