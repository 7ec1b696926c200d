// Package memory is an in-process bus: one ordered, buffered queue per
// routing key. It backs tests and single-binary deployments where the
// gateway and the mutator share a process.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/touristcache/bus"
)

type Options struct {
	QueueSize       int // per routing key; 0 => 1024
	MaxRedeliveries int // handler retries before a message is dropped; 0 => 3
	// OnDrop is called with a message that failed every delivery attempt.
	OnDrop func(m bus.Message, err error)
}

type Bus struct {
	mu     sync.Mutex
	queues map[string]chan bus.Message
	opts   Options

	done      chan struct{}
	closeOnce sync.Once
}

var _ bus.Bus = (*Bus)(nil)

func New(opts Options) *Bus {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxRedeliveries <= 0 {
		opts.MaxRedeliveries = 3
	}
	return &Bus{
		queues: make(map[string]chan bus.Message),
		opts:   opts,
		done:   make(chan struct{}),
	}
}

func (b *Bus) queue(key string) chan bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[key]
	if !ok {
		q = make(chan bus.Message, b.opts.QueueSize)
		b.queues[key] = q
	}
	return q
}

func (b *Bus) Publish(ctx context.Context, m bus.Message) error {
	select {
	case <-b.done:
		return bus.ErrClosed
	default:
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	// copy so the publisher may reuse its buffer
	m.Body = append([]byte(nil), m.Body...)

	select {
	case b.queue(m.RoutingKey) <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return bus.ErrClosed
	}
}

func (b *Bus) Subscribe(ctx context.Context, routingKey string, h bus.Handler) error {
	q := b.queue(routingKey)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return bus.ErrClosed
		case m := <-q:
			b.deliver(ctx, m, h)
		}
	}
}

// deliver retries inline so later messages on the key wait behind m.
func (b *Bus) deliver(ctx context.Context, m bus.Message, h bus.Handler) {
	var err error
	for attempt := 0; attempt <= b.opts.MaxRedeliveries; attempt++ {
		if err = h(ctx, m); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	if b.opts.OnDrop != nil {
		b.opts.OnDrop(m, err)
	}
}

// Pending reports how many messages wait on routingKey.
func (b *Bus) Pending(routingKey string) int {
	return len(b.queue(routingKey))
}

func (b *Bus) Close(context.Context) error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
