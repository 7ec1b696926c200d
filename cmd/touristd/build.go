package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/unkn0wn-root/touristcache"
	"github.com/unkn0wn-root/touristcache/bus"
	"github.com/unkn0wn-root/touristcache/bus/amqp"
	"github.com/unkn0wn-root/touristcache/bus/memory"
	"github.com/unkn0wn-root/touristcache/bus/redisstream"
	c "github.com/unkn0wn-root/touristcache/codec"
	gen "github.com/unkn0wn-root/touristcache/genstore"
	asynchook "github.com/unkn0wn-root/touristcache/hooks/async"
	lr "github.com/unkn0wn-root/touristcache/log/logrus"
	"github.com/unkn0wn-root/touristcache/mutator"
	"github.com/unkn0wn-root/touristcache/mutator/postgres"
	pr "github.com/unkn0wn-root/touristcache/provider"
	bcp "github.com/unkn0wn-root/touristcache/provider/bigcache"
	rp "github.com/unkn0wn-root/touristcache/provider/redis"
	rcp "github.com/unkn0wn-root/touristcache/provider/ristretto"
	"github.com/unkn0wn-root/touristcache/sloghooks"
	"github.com/unkn0wn-root/touristcache/store/httpstore"
	"github.com/unkn0wn-root/touristcache/tourist"
)

// repository is what the mutator writes to. Every repository also answers
// the gateway's lookups.
type repository interface {
	mutator.Repository
	touristcache.RemoteStore
}

// app owns the process-wide clients and closes them in reverse order.
type app struct {
	cfg     config
	out     io.Writer
	log     *logrus.Logger
	rdb     goredis.UniversalClient
	closers []func(context.Context) error
}

func newApp(cfg config, out io.Writer) (*app, error) {
	l := logrus.New()
	l.SetOutput(out)
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	l.SetLevel(lvl)
	if cfg.LogFormat == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return &app{cfg: cfg, out: out, log: l}, nil
}

func (a *app) logger(component string) touristcache.Logger {
	return lr.New(a.log, component)
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close(ctx context.Context) error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i](ctx))
	}
	a.closers = nil
	return err
}

// redis returns the shared client, connecting on first use.
func (a *app) redis() goredis.UniversalClient {
	if a.rdb == nil {
		a.rdb = goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		rdb := a.rdb
		a.onClose(func(context.Context) error { return rdb.Close() })
	}
	return a.rdb
}

func newViewCodec(name string) (c.Codec[tourist.Tourist], error) {
	switch name {
	case "json", "":
		return c.JSON[tourist.Tourist]{}, nil
	case "cbor":
		return c.NewCBOR[tourist.Tourist](true)
	case "msgpack":
		return c.Msgpack[tourist.Tourist]{}, nil
	}
	return nil, fmt.Errorf("unknown view codec %q", name)
}

// viewStore builds the provider and the gen store that must go with it. A
// nil gen store leaves the gateway on its in-process default.
func (a *app) viewStore(ctx context.Context) (pr.Provider, gen.GenStore, touristcache.SetCostFunc, error) {
	switch a.cfg.Cache {
	case "redis":
		p, err := rp.New(rp.Config{Client: a.redis(), Prefix: a.cfg.Namespace + ":"})
		if err != nil {
			return nil, nil, nil, err
		}
		gs := gen.NewRedisGenStore(gen.RedisConfig{
			Client:    a.redis(),
			Namespace: a.cfg.Namespace,
			TTL:       2 * a.cfg.TTL,
		})
		return p, gs, nil, nil
	case "ristretto":
		p, err := rcp.New(rcp.Config{
			NumCounters: 1e6,
			MaxCost:     a.cfg.CacheMaxCost,
			BufferItems: 64,
			SyncWrites:  true,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		cost := func(_ string, raw []byte, _ bool) int64 { return int64(len(raw)) }
		return p, nil, cost, nil
	case "bigcache":
		p, err := bcp.New(ctx, bcp.Config{LifeWindow: a.cfg.TTL})
		if err != nil {
			return nil, nil, nil, err
		}
		return p, nil, nil, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown cache %q", a.cfg.Cache)
}

func (a *app) bus(component string) (bus.Bus, error) {
	log := a.logger(component)
	onDrop := func(m bus.Message, err error) {
		log.Error("bus message dropped after retries", touristcache.Fields{"routingKey": m.RoutingKey, "id": m.ID, "err": err})
	}
	var (
		b   bus.Bus
		err error
	)
	switch a.cfg.Bus {
	case "memory":
		b = memory.New(memory.Options{OnDrop: onDrop})
	case "redis":
		cfg := redisstream.Config{
			Client: a.redis(),
			Prefix: a.cfg.Namespace + ":bus",
			Group:  component,
			OnDrop: onDrop,
		}
		if component == "gateway" && a.cfg.Cache != "redis" {
			// in-process views: every replica reads every result through a
			// group of its own, from the moment it starts
			cfg.Group = component + "-" + uuid.NewString()
			cfg.StartID = "$"
			cfg.DestroyGroup = true
		}
		b, err = redisstream.New(cfg)
	case "amqp":
		b, err = amqp.Dial(amqp.Config{URL: a.cfg.AMQPURL})
	default:
		err = fmt.Errorf("unknown bus %q", a.cfg.Bus)
	}
	if err != nil {
		return nil, err
	}
	a.onClose(b.Close)
	return b, nil
}

func (a *app) repository(ctx context.Context) (repository, error) {
	if a.cfg.Repo != "postgres" {
		return mutator.NewMemoryRepository(), nil
	}
	db, err := postgres.Open(ctx, postgres.Config{DSN: a.cfg.PostgresDSN})
	if err != nil {
		return nil, err
	}
	a.onClose(func(context.Context) error { return db.Close() })
	repo := postgres.NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// remoteStore is the domain service's REST surface when --store-url is set,
// otherwise the repository itself.
func (a *app) remoteStore(ctx context.Context) (touristcache.RemoteStore, error) {
	if a.cfg.StoreURL != "" {
		return httpstore.New(httpstore.Config{BaseURL: a.cfg.StoreURL, Timeout: a.cfg.RemoteTimeout})
	}
	return a.repository(ctx)
}

type gatewayDeps struct {
	bus             bus.Bus
	store           touristcache.RemoteStore
	skipSubscribers bool
}

func (a *app) gateway(ctx context.Context, d gatewayDeps) (touristcache.Gateway, error) {
	p, gs, cost, err := a.viewStore(ctx)
	if err != nil {
		return nil, err
	}
	vc, err := newViewCodec(a.cfg.ViewCodec)
	if err != nil {
		return nil, err
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(a.cfg.LogLevel)); err != nil {
		lvl = slog.LevelInfo
	}
	hooks := asynchook.New(sloghooks.New(
		slog.New(slog.NewJSONHandler(a.out, &slog.HandlerOptions{Level: lvl})),
		sloghooks.Options{SelfHealEvery: 10, StaleApplyEvery: 100},
	), 1, 1000)

	g, err := touristcache.New(touristcache.Options{
		Namespace:             a.cfg.Namespace,
		Provider:              p,
		Store:                 d.store,
		Bus:                   d.bus,
		ViewCodec:             vc,
		Logger:                a.logger("gateway"),
		Hooks:                 hooks,
		TTL:                   a.cfg.TTL,
		RemoteTimeout:         a.cfg.RemoteTimeout,
		ComputeSetCost:        cost,
		GenStore:              gs,
		SkipResultSubscribers: d.skipSubscribers,
	})
	if err != nil {
		hooks.Close()
		_ = p.Close(ctx)
		return nil, err
	}
	a.onClose(func(context.Context) error {
		hooks.Close()
		return nil
	})
	a.onClose(g.Close)
	return g, nil
}
