package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/touristcache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

// Redis stores view entries in redis so that several gateway replicas share
// one cache. Pair it with genstore.RedisGenStore, otherwise each replica keeps
// its own generations and rejects entries written by the others.
type Redis struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Prefix is prepended to every key, e.g. "gw:" when the redis is shared.
	Prefix      string
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, prefix: cfg.Prefix, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set treats non-positive TTLs as "no expiry".
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if err := p.rdb.Set(ctx, p.prefix+key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Del unlinks the key; the allTourists list can be large and redis frees it
// off the main thread.
func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Unlink(ctx, p.prefix+key).Err()
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
