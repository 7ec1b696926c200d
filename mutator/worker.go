package mutator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/unkn0wn-root/touristcache"
	"github.com/unkn0wn-root/touristcache/bus"
	c "github.com/unkn0wn-root/touristcache/codec"
	"github.com/unkn0wn-root/touristcache/tourist"
)

const (
	defaultMaxCommandSize = 1 << 20
	defaultResubscribe    = 30 * time.Second
)

type Config struct {
	Bus  bus.Bus
	Repo Repository
	// Codec for command and result bodies. Defaults to TouristProto.
	Codec          c.Codec[tourist.Tourist]
	MaxCommandSize int
	// NewID assigns ids to created tourists. Defaults to uuid.NewString.
	NewID                  func() string
	ResubscribeMaxInterval time.Duration
	Logger                 touristcache.Logger
}

// Worker consumes mutation commands, applies them to the repository and
// publishes one result per applied command.
//
// A command that cannot be applied is logged and acknowledged; the gateway
// that sent it never sees a result for it.
type Worker struct {
	bus         bus.Bus
	repo        Repository
	codec       c.Codec[tourist.Tourist]
	newID       func() string
	maxInterval time.Duration
	log         touristcache.Logger
}

func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Bus == nil {
		return nil, errors.New("mutator: bus is required")
	}
	if cfg.Repo == nil {
		return nil, errors.New("mutator: repository is required")
	}
	inner := cfg.Codec
	if inner == nil {
		inner = c.TouristProto{}
	}
	maxSize := cfg.MaxCommandSize
	if maxSize == 0 {
		maxSize = defaultMaxCommandSize
	}
	w := &Worker{
		bus:         cfg.Bus,
		repo:        cfg.Repo,
		codec:       c.Limit[tourist.Tourist]{Inner: inner, MaxDecode: maxSize},
		newID:       cfg.NewID,
		maxInterval: cfg.ResubscribeMaxInterval,
		log:         cfg.Logger,
	}
	if w.newID == nil {
		w.newID = uuid.NewString
	}
	if w.maxInterval <= 0 {
		w.maxInterval = defaultResubscribe
	}
	if w.log == nil {
		w.log = touristcache.NopLogger{}
	}
	return w, nil
}

// Run consumes the three command routes until ctx is done or the bus is
// closed. Lost subscriptions are re-established with exponential backoff.
func (w *Worker) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, rk := range []string{bus.RouteCreate, bus.RouteUpdate, bus.RouteDelete} {
		rk := rk
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.consume(ctx, rk); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return errs
}

func (w *Worker) consume(ctx context.Context, routingKey string) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = w.maxInterval
	bo.MaxElapsedTime = 0

	op := func() error {
		err := w.bus.Subscribe(ctx, routingKey, w.Handle)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, bus.ErrClosed) {
			return backoff.Permanent(err)
		}
		if err == nil {
			err = errors.New("subscription ended")
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		w.log.Warn("command subscription lost; resubscribing", touristcache.Fields{
			"routingKey": routingKey, "err": err, "wait": wait.String(),
		})
	}
	err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
	if errors.Is(err, bus.ErrClosed) {
		return nil
	}
	return err
}

// Handle applies one command. It always acknowledges.
func (w *Worker) Handle(ctx context.Context, m bus.Message) error {
	var (
		result bus.Message
		err    error
	)
	resultKey, ok := bus.ResultRoute(m.RoutingKey)
	switch {
	case !ok:
		err = fmt.Errorf("unknown routing key %q", m.RoutingKey)
	case m.RoutingKey == bus.RouteCreate:
		result, err = w.create(ctx, m, resultKey)
	case m.RoutingKey == bus.RouteUpdate:
		result, err = w.update(ctx, m, resultKey)
	default:
		result, err = w.delete(ctx, m, resultKey)
	}
	if err != nil {
		w.log.Error("command dropped", touristcache.Fields{"routingKey": m.RoutingKey, "id": m.ID, "err": err})
		return nil
	}
	if err := w.bus.Publish(ctx, result); err != nil {
		w.log.Error("result publish failed", touristcache.Fields{"routingKey": result.RoutingKey, "err": err})
		return nil
	}
	w.log.Debug("command applied", touristcache.Fields{"routingKey": m.RoutingKey, "id": m.ID})
	return nil
}

func (w *Worker) create(ctx context.Context, m bus.Message, resultKey string) (bus.Message, error) {
	t, err := w.codec.Decode(m.Body)
	if err != nil {
		return bus.Message{}, fmt.Errorf("decode: %w", err)
	}
	if t.ID == "" {
		t.ID = w.newID()
	}
	if err := t.Validate(); err != nil {
		return bus.Message{}, err
	}
	saved, err := w.repo.Save(ctx, t)
	if err != nil {
		return bus.Message{}, fmt.Errorf("save %s: %w", t.ID, err)
	}
	return w.entityResult(resultKey, saved)
}

func (w *Worker) update(ctx context.Context, m bus.Message, resultKey string) (bus.Message, error) {
	t, err := w.codec.Decode(m.Body)
	if err != nil {
		return bus.Message{}, fmt.Errorf("decode: %w", err)
	}
	if t.ID == "" {
		return bus.Message{}, fmt.Errorf("%w: id is required", tourist.ErrInvalid)
	}
	if err := t.Validate(); err != nil {
		return bus.Message{}, err
	}
	saved, err := w.repo.Save(ctx, t)
	if err != nil {
		return bus.Message{}, fmt.Errorf("save %s: %w", t.ID, err)
	}
	return w.entityResult(resultKey, saved)
}

// delete publishes the removed record. A tourist that is already gone still
// gets an id-only result, so a redelivered delete converges the views too.
func (w *Worker) delete(ctx context.Context, m bus.Message, resultKey string) (bus.Message, error) {
	id := string(m.Body)
	if m.ContentType != bus.ContentTypeText {
		t, err := w.codec.Decode(m.Body)
		if err != nil {
			return bus.Message{}, fmt.Errorf("decode: %w", err)
		}
		id = t.ID
	}
	if id == "" {
		return bus.Message{}, fmt.Errorf("%w: id is required", tourist.ErrInvalid)
	}
	removed, err := w.repo.Delete(ctx, id)
	if errors.Is(err, tourist.ErrNotFound) {
		return bus.Message{
			RoutingKey:  resultKey,
			ContentType: bus.ContentTypeText,
			Body:        []byte(id),
		}, nil
	}
	if err != nil {
		return bus.Message{}, fmt.Errorf("delete %s: %w", id, err)
	}
	return w.entityResult(resultKey, removed)
}

func (w *Worker) entityResult(routingKey string, t tourist.Tourist) (bus.Message, error) {
	body, err := w.codec.Encode(t)
	if err != nil {
		return bus.Message{}, fmt.Errorf("encode result: %w", err)
	}
	return bus.Message{
		RoutingKey:  routingKey,
		ContentType: bus.ContentTypeProtobuf,
		Body:        body,
	}, nil
}
