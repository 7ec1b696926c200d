// Package redisstream implements bus.Bus on Redis Streams.
//
// Each routing key maps to one stream, "<prefix>:<routingKey>". Subscribers
// read through a consumer group, so several gateway replicas sharing a group
// split the work while each message is handled once. Entries left pending by
// a crashed consumer are replayed before new ones are read.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/unkn0wn-root/touristcache/bus"
)

const (
	fieldID   = "id"
	fieldType = "ct"
	fieldBody = "body"
)

type Config struct {
	Client      redis.UniversalClient
	Prefix      string        // stream name prefix; "" => "touristcache:bus"
	Group       string        // consumer group; "" => "touristcache"
	Consumer    string        // consumer name; "" => random
	MaxLen      int64         // approximate stream cap; 0 => 10000
	Block       time.Duration // XREADGROUP block; 0 => 2s
	Batch       int64         // entries per read; 0 => 16
	MaxBackoff  time.Duration // read/handler retry cap; 0 => 30s
	MaxAttempts int           // handler attempts per entry before it is dropped; 0 => 5
	CloseClient bool          // if true, Close() closes the client
	// StartID is where a group created by this bus begins reading: "0" (the
	// default) replays the retained stream, "$" sees only entries added later.
	StartID string
	// DestroyGroup removes the groups this bus created on Close. Set it, with
	// StartID "$", for a group that belongs to one process only.
	DestroyGroup bool
	// OnDrop is called with an entry that failed every handler attempt.
	OnDrop func(m bus.Message, err error)
}

type Bus struct {
	cfg Config
	rdb redis.UniversalClient

	mu      sync.Mutex
	created []string // streams on which this bus created cfg.Group

	done      chan struct{}
	closeOnce sync.Once
}

var _ bus.Bus = (*Bus)(nil)

var ErrNilClient = errors.New("redisstream: nil client")

func New(cfg Config) (*Bus, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "touristcache:bus"
	}
	if cfg.Group == "" {
		cfg.Group = "touristcache"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = uuid.NewString()
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 10000
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 16
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.StartID == "" {
		cfg.StartID = "0"
	}
	return &Bus{cfg: cfg, rdb: cfg.Client, done: make(chan struct{})}, nil
}

func (b *Bus) stream(routingKey string) string { return b.cfg.Prefix + ":" + routingKey }

func (b *Bus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bus) Publish(ctx context.Context, m bus.Message) error {
	if b.closed() {
		return bus.ErrClosed
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(m.RoutingKey),
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{
			fieldID:   m.ID,
			fieldType: m.ContentType,
			fieldBody: m.Body,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisstream: xadd %s: %w", m.RoutingKey, err)
	}
	return nil
}

func (b *Bus) ensureGroup(ctx context.Context, stream string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, b.cfg.Group, b.cfg.StartID).Err()
	if err != nil {
		if strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("redisstream: create group on %s: %w", stream, err)
	}
	b.mu.Lock()
	b.created = append(b.created, stream)
	b.mu.Unlock()
	return nil
}

func (b *Bus) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = b.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	return bo
}

// Subscribe reads the routing key's stream until ctx is done or the bus is
// closed. Read errors are retried with exponential backoff. A failing entry
// stays pending and is retried in place, so later entries wait behind it.
func (b *Bus) Subscribe(ctx context.Context, routingKey string, h bus.Handler) error {
	stream := b.stream(routingKey)
	if err := b.ensureGroup(ctx, stream); err != nil {
		return err
	}

	bo := b.newBackOff()
	attempts := make(map[string]int)
	// "0" replays this consumer's pending entries; ">" reads new ones
	cursor := "0"

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.closed() {
			return bus.ErrClosed
		}

		res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{stream, cursor},
			Count:    b.cfg.Batch,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := b.sleep(ctx, bo.NextBackOff()); err != nil {
				return err
			}
			continue
		}

		n, failed := 0, false
		for _, s := range res {
			for _, xm := range s.Messages {
				n++
				m := toMessage(routingKey, xm)
				if herr := h(ctx, m); herr != nil {
					attempts[xm.ID]++
					if attempts[xm.ID] < b.cfg.MaxAttempts {
						failed = true
						break
					}
					if b.cfg.OnDrop != nil {
						b.cfg.OnDrop(m, herr)
					}
				}
				delete(attempts, xm.ID)
				if aerr := b.rdb.XAck(ctx, stream, b.cfg.Group, xm.ID).Err(); aerr != nil {
					failed = true
					break
				}
			}
			if failed {
				break
			}
		}

		switch {
		case failed:
			cursor = "0"
			if err := b.sleep(ctx, bo.NextBackOff()); err != nil {
				return err
			}
		case cursor == "0" && n == 0:
			cursor = ">"
			bo.Reset()
		default:
			bo.Reset()
		}
	}
}

func (b *Bus) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return bus.ErrClosed
	case <-t.C:
		return nil
	}
}

func toMessage(routingKey string, xm redis.XMessage) bus.Message {
	m := bus.Message{ID: xm.ID, RoutingKey: routingKey}
	if v, ok := xm.Values[fieldID].(string); ok && v != "" {
		m.ID = v
	}
	if v, ok := xm.Values[fieldType].(string); ok {
		m.ContentType = v
	}
	if v, ok := xm.Values[fieldBody].(string); ok {
		m.Body = []byte(v)
	}
	return m
}

// Close stops subscribers, destroys the groups this bus created when
// DestroyGroup is set, and closes the client if the bus owns it.
func (b *Bus) Close(ctx context.Context) error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		if b.cfg.DestroyGroup {
			b.mu.Lock()
			streams := b.created
			b.created = nil
			b.mu.Unlock()
			for _, stream := range streams {
				if derr := b.rdb.XGroupDestroy(ctx, stream, b.cfg.Group).Err(); derr != nil {
					err = multierr.Append(err, fmt.Errorf("redisstream: destroy group on %s: %w", stream, derr))
				}
			}
		}
		if b.cfg.CloseClient {
			err = multierr.Append(err, b.rdb.Close())
		}
	})
	return err
}
