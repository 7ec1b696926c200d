package touristcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/unkn0wn-root/touristcache/bus"
	"github.com/unkn0wn-root/touristcache/tourist"
)

var errSubscriptionEnded = errors.New("subscription ended")

// subscriber applies the results of one mutation kind, one at a time.
type subscriber struct {
	bus         bus.Bus
	routingKey  string
	decode      func(bus.Message) (tourist.Tourist, error)
	apply       func(context.Context, tourist.Tourist) error
	maxInterval time.Duration
	log         Logger
	hooks       Hooks
}

// run keeps a subscription open until ctx is done or the bus is closed.
// A subscription that fails is re-established with exponential backoff.
func (s *subscriber) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = s.maxInterval
	bo.MaxElapsedTime = 0

	op := func() error {
		start := time.Now()
		err := s.bus.Subscribe(ctx, s.routingKey, s.handle)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, bus.ErrClosed) {
			return backoff.Permanent(err)
		}
		if time.Since(start) > s.maxInterval {
			// a long healthy subscription starts the backoff over
			bo.Reset()
		}
		if err == nil {
			err = errSubscriptionEnded
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn("result subscription lost; resubscribing", Fields{
			"routingKey": s.routingKey, "err": err, "wait": wait.String(),
		})
	}

	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	s.log.Debug("result subscriber stopped", Fields{"routingKey": s.routingKey, "err": err})
}

// handle always acknowledges: a result that cannot be applied is logged and
// dropped, and the views it missed heal by TTL or the next result.
func (s *subscriber) handle(ctx context.Context, m bus.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.drop(m, fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()

	t, err := s.decode(m)
	if err == nil {
		err = s.apply(ctx, t)
	}
	if err != nil {
		s.drop(m, err)
	}
	return nil
}

func (s *subscriber) drop(m bus.Message, err error) {
	s.hooks.ResultDropped(s.routingKey, err)
	s.log.Error("mutation result dropped", Fields{"routingKey": s.routingKey, "id": m.ID, "err": err})
}
