package touristcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/touristcache/bus"
	c "github.com/unkn0wn-root/touristcache/codec"
	gen "github.com/unkn0wn-root/touristcache/genstore"
	pr "github.com/unkn0wn-root/touristcache/provider"
	"github.com/unkn0wn-root/touristcache/tourist"
)

const (
	defaultTTL           = 10 * time.Minute
	defaultRemoteTimeout = 5 * time.Second
	defaultGenRetention  = 30 * 24 * time.Hour
	defaultSweep         = time.Hour
	defaultResubscribe   = 30 * time.Second
	defaultMaxResultSize = 1 << 20
)

type gateway struct {
	res  *resolver
	prop *propagator

	provider pr.Provider
	gen      gen.GenStore
	log      Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Gateway = (*gateway)(nil)

func newGateway(opts Options) (*gateway, error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("touristcache: namespace is required")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("touristcache: provider is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("touristcache: remote store is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("touristcache: bus is required")
	}

	// defaults
	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})
	viewCodec := coalesce[c.Codec[tourist.Tourist]](opts.ViewCodec, c.JSON[tourist.Tourist]{})
	busCodec := c.Limit[tourist.Tourist]{
		Inner:     coalesce[c.Codec[tourist.Tourist]](opts.BusCodec, c.TouristProto{}),
		MaxDecode: coalesce(opts.MaxResultSize, defaultMaxResultSize),
	}

	cost := opts.ComputeSetCost
	if cost == nil {
		cost = func(string, []byte, bool) int64 { return 1 }
	}

	gs := opts.GenStore
	if gs == nil {
		// default to in-process generations with periodic cleanup
		gs = gen.NewLocalGenStore(
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
	}

	views := newViewSet(viewDeps{
		ns:       opts.Namespace,
		provider: opts.Provider,
		gen:      gs,
		log:      log,
		hooks:    hooks,
		cost:     cost,
		ttl:      coalesce(opts.TTL, defaultTTL),
		ttls:     opts.TTLs,
	}, viewCodec)

	g := &gateway{
		res: &resolver{
			views:   views,
			store:   opts.Store,
			timeout: coalesce(opts.RemoteTimeout, defaultRemoteTimeout),
			enabled: !opts.Disabled,
			log:     log,
			hooks:   hooks,
		},
		prop: &propagator{
			views: views,
			bus:   opts.Bus,
			codec: busCodec,
			log:   log,
			hooks: hooks,
		},
		provider: opts.Provider,
		gen:      gs,
		log:      log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	if !opts.Disabled && !opts.SkipResultSubscribers {
		g.subscribe(ctx, opts.Bus, coalesce(opts.ResubscribeMaxInterval, defaultResubscribe), hooks)
	}
	return g, nil
}

// subscribe starts one subscriber per result kind.
func (g *gateway) subscribe(ctx context.Context, b bus.Bus, maxInterval time.Duration, hooks Hooks) {
	apply := map[string]func(context.Context, tourist.Tourist) error{
		bus.RouteCreateResult: g.prop.applyCreate,
		bus.RouteUpdateResult: g.prop.applyUpdate,
		bus.RouteDeleteResult: g.prop.applyDelete,
	}
	for rk, fn := range apply {
		s := &subscriber{
			bus:         b,
			routingKey:  rk,
			decode:      g.prop.decodeResult,
			apply:       fn,
			maxInterval: maxInterval,
			log:         g.log,
			hooks:       hooks,
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			s.run(ctx)
		}()
	}
}

func (g *gateway) TouristByID(ctx context.Context, id string) (tourist.Tourist, error) {
	if g.closed.Load() {
		return tourist.Tourist{}, ErrClosed
	}
	return g.res.byID(ctx, id)
}

func (g *gateway) TouristByEmail(ctx context.Context, email string) (tourist.Tourist, error) {
	if g.closed.Load() {
		return tourist.Tourist{}, ErrClosed
	}
	return g.res.byEmail(ctx, email)
}

func (g *gateway) TouristByPhone(ctx context.Context, phone string) (tourist.Tourist, error) {
	if g.closed.Load() {
		return tourist.Tourist{}, ErrClosed
	}
	return g.res.byPhone(ctx, phone)
}

func (g *gateway) TouristsByNameAndSurname(ctx context.Context, name, surname string) ([]tourist.Tourist, error) {
	if g.closed.Load() {
		return nil, ErrClosed
	}
	return g.res.byNameSurname(ctx, name, surname)
}

func (g *gateway) AllTourists(ctx context.Context) ([]tourist.Tourist, error) {
	if g.closed.Load() {
		return nil, ErrClosed
	}
	return g.res.all(ctx)
}

func (g *gateway) Create(ctx context.Context, t tourist.Tourist) error {
	if g.closed.Load() {
		return ErrClosed
	}
	return g.prop.create(ctx, t)
}

func (g *gateway) Update(ctx context.Context, id string, t tourist.Tourist) error {
	if g.closed.Load() {
		return ErrClosed
	}
	return g.prop.update(ctx, id, t)
}

func (g *gateway) Delete(ctx context.Context, id string) error {
	if g.closed.Load() {
		return ErrClosed
	}
	return g.prop.delete(ctx, id)
}

// Close stops the subscribers, then closes the gen store and the provider.
// The bus belongs to the caller and is left open.
func (g *gateway) Close(ctx context.Context) error {
	g.closeOnce.Do(func() {
		g.closed.Store(true)
		g.cancel()

		done := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			g.closeErr = ctx.Err()
			return
		}

		// Close gen store first (best effort)
		_ = g.gen.Close(ctx)
		g.closeErr = g.provider.Close(ctx)
	})
	return g.closeErr
}
