package touristcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/touristcache/bus"
	c "github.com/unkn0wn-root/touristcache/codec"
	gen "github.com/unkn0wn-root/touristcache/genstore"
	pr "github.com/unkn0wn-root/touristcache/provider"
	"github.com/unkn0wn-root/touristcache/tourist"
)

type SetCostFunc func(storageKey string, raw []byte, isList bool) int64

// View names. They are part of every storage key.
const (
	ViewAll           = "allTourists"
	ViewByID          = "tourists"
	ViewByEmail       = "touristsByEmail"
	ViewByPhone       = "touristsByPhone"
	ViewByNameSurname = "touristsByNameAndSurname"

	// AllKey is the only key of the allTourists view.
	AllKey = "allTourists"
)

// Gateway serves tourist reads from the cache views and forwards writes to the bus.
type Gateway interface {
	// Read-through lookups. A single-tourist miss on the remote store returns
	// ErrNotFound; list lookups return an empty slice instead.
	TouristByID(ctx context.Context, id string) (tourist.Tourist, error)
	TouristByEmail(ctx context.Context, email string) (tourist.Tourist, error)
	TouristByPhone(ctx context.Context, phone string) (tourist.Tourist, error)
	TouristsByNameAndSurname(ctx context.Context, name, surname string) ([]tourist.Tourist, error)
	AllTourists(ctx context.Context) ([]tourist.Tourist, error)

	// Mutations return once the command is on the bus. The views are updated
	// later, when the result comes back.
	Create(ctx context.Context, t tourist.Tourist) error
	Update(ctx context.Context, id string, t tourist.Tourist) error
	Delete(ctx context.Context, id string) error

	// Close stops the result subscribers and releases the gen store and provider.
	Close(ctx context.Context) error
}

// Options tune the gateway.
// Namespace, Provider, Store and Bus are required; others have sensible defaults.
type Options struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "app:prod"
	Provider  pr.Provider
	Store     RemoteStore
	Bus       bus.Bus

	ViewCodec     c.Codec[tourist.Tourist] // views; nil => JSON
	BusCodec      c.Codec[tourist.Tourist] // commands and results; nil => TouristProto
	MaxResultSize int                      // bus payload decode cap; 0 => 1 MiB

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	TTL                    time.Duration            // every view; 0 => 10m
	TTLs                   map[string]time.Duration // per view name, overrides TTL
	RemoteTimeout          time.Duration            // read-through store call; 0 => 5s
	CleanupInterval        time.Duration            // local gen store sweep; 0 => 1h
	GenRetention           time.Duration            // 0 => 30d
	ResubscribeMaxInterval time.Duration            // result subscriber backoff cap; 0 => 30s
	ComputeSetCost         SetCostFunc              // default 1
	GenStore               gen.GenStore             // nil => LocalGenStore (in-process)
	Disabled               bool                     // bypass the views; every read goes remote
	// SkipResultSubscribers leaves result handling to another process that
	// shares the same provider and gen store (e.g. a one-shot CLI next to a daemon).
	SkipResultSubscribers bool
}

func New(opts Options) (Gateway, error) {
	return newGateway(opts)
}
