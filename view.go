package touristcache

import (
	"context"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/touristcache/codec"
	gen "github.com/unkn0wn-root/touristcache/genstore"
	"github.com/unkn0wn-root/touristcache/internal/util"
	"github.com/unkn0wn-root/touristcache/internal/wire"
	pr "github.com/unkn0wn-root/touristcache/provider"
)

const (
	kindSingle = "single"
	kindList   = "list"
)

// view is one independently keyed, independently expiring cache.
// Every entry is stamped with the generation it was written under; an entry
// whose stamp differs from the current generation is stale and deleted on read.
type view[V any] struct {
	name     string
	kind     string
	ns       string
	ttl      time.Duration
	provider pr.Provider
	codec    c.Codec[V]
	gen      gen.GenStore
	log      Logger
	hooks    Hooks
	cost     SetCostFunc
}

func (v *view[V]) storageKey(key string) string {
	return util.StorageKey(v.kind, v.ns, v.name, key)
}

// Get never fails: provider and gen store errors are reported and served as a miss.
func (v *view[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	val, _, ok := v.load(ctx, v.storageKey(key))
	if !ok {
		return zero, false
	}
	return val, true
}

// load returns the decoded entry under sk and the generation it carries.
func (v *view[V]) load(ctx context.Context, sk string) (V, uint64, bool) {
	var zero V
	raw, ok, err := v.provider.Get(ctx, sk)
	if err != nil {
		v.hooks.ProviderGetError(sk, err)
		v.log.Warn("provider get failed", Fields{"view": v.name, "key": sk, "err": err})
		return zero, 0, false
	}
	if !ok {
		return zero, 0, false
	}

	g, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		v.selfHeal(ctx, sk, "corrupt")
		return zero, 0, false
	}
	cur, err := v.gen.Snapshot(ctx, sk)
	if err != nil {
		// cannot validate; serve a miss but keep the entry
		v.hooks.GenSnapshotError(sk, err)
		v.log.Warn("gen snapshot error", Fields{"key": sk, "err": err})
		return zero, 0, false
	}
	if g != cur {
		v.selfHeal(ctx, sk, "gen_mismatch")
		return zero, 0, false
	}
	val, err := v.codec.Decode(payload)
	if err != nil {
		v.selfHeal(ctx, sk, "value_decode")
		return zero, 0, false
	}
	return val, g, true
}

func (v *view[V]) selfHeal(ctx context.Context, sk, reason string) {
	_ = v.provider.Del(ctx, sk)
	v.hooks.SelfHeal(sk, reason)
	v.log.Debug("self-healed view entry", Fields{"view": v.name, "key": sk, "reason": reason})
}

// SnapshotGen returns the generation a read-through must present to SetWithGen.
func (v *view[V]) SnapshotGen(ctx context.Context, key string) (uint64, error) {
	sk := v.storageKey(key)
	g, err := v.gen.Snapshot(ctx, sk)
	if err != nil {
		v.hooks.GenSnapshotError(sk, err)
		return 0, err
	}
	return g, nil
}

// SetWithGen writes value only if the generation is still observedGen.
// A skipped write is not an error.
func (v *view[V]) SetWithGen(ctx context.Context, key string, value V, observedGen uint64) error {
	sk := v.storageKey(key)
	cur, err := v.gen.Snapshot(ctx, sk)
	if err != nil {
		v.hooks.GenSnapshotError(sk, err)
		return fmt.Errorf("gen snapshot %s: %w", sk, err)
	}
	if cur != observedGen {
		// a mutation result landed while the remote call was in flight
		v.log.Debug("SetWithGen skipped (gen mismatch)", Fields{"view": v.name, "key": key, "obs": observedGen})
		return nil
	}
	return v.write(ctx, sk, value, observedGen)
}

// Put bumps the generation and writes value under the new one.
// Any read-through that snapshotted before the bump will not overwrite it.
func (v *view[V]) Put(ctx context.Context, key string, value V) error {
	sk := v.storageKey(key)
	g, err := v.gen.Bump(ctx, sk)
	if err != nil {
		v.hooks.GenBumpError(sk, err)
		// the old entry may still validate; drop it rather than leave it stale
		_ = v.provider.Del(ctx, sk)
		return fmt.Errorf("gen bump %s: %w", sk, err)
	}
	return v.write(ctx, sk, value, g)
}

func (v *view[V]) write(ctx context.Context, sk string, value V, g uint64) error {
	payload, err := v.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", sk, err)
	}
	wireb := wire.EncodeEntry(g, payload)
	ok, err := v.provider.Set(ctx, sk, wireb, v.cost(sk, wireb, v.kind == kindList), v.ttl)
	if err != nil {
		return fmt.Errorf("provider set %s: %w", sk, err)
	}
	if !ok {
		v.hooks.ProviderSetRejected(sk)
		v.log.Debug("Set rejected by provider (pressure)", Fields{"view": v.name, "key": sk})
	}
	return nil
}

// Evict bumps the generation and deletes the entry. Either step alone is
// enough to hide the entry, so only a double failure is an outage.
func (v *view[V]) Evict(ctx context.Context, key string) error {
	sk := v.storageKey(key)
	_, bumpErr := v.gen.Bump(ctx, sk)
	if bumpErr != nil {
		v.hooks.GenBumpError(sk, bumpErr)
	}
	delErr := v.provider.Del(ctx, sk)
	if bumpErr != nil && delErr != nil {
		v.hooks.EvictOutage(sk, bumpErr, delErr)
		return &EvictError{Key: sk, BumpErr: bumpErr, DelErr: delErr}
	}
	if delErr != nil {
		v.log.Warn("evict delete failed; entry hidden by gen bump", Fields{"view": v.name, "key": key, "err": delErr})
	}
	v.log.Debug("evicted view entry (bumped gen + deleted)", Fields{"view": v.name, "key": key})
	return nil
}

// Mutate rewrites the entry under key with fn(current). An absent entry is
// left absent and reported as applied=false, but its generation is still
// bumped so that a read-through already waiting on the store cannot write the
// list as it was before this change.
//
// The new generation must be exactly one past the one the entry was read
// under; otherwise another writer got in between and the entry is deleted
// instead, so the next read refetches it.
func (v *view[V]) Mutate(ctx context.Context, key string, fn func(V) V) (applied bool, err error) {
	sk := v.storageKey(key)
	cur, g, ok := v.load(ctx, sk)
	if !ok {
		if _, err := v.gen.Bump(ctx, sk); err != nil {
			v.hooks.GenBumpError(sk, err)
			return false, fmt.Errorf("gen bump %s: %w", sk, err)
		}
		return false, nil
	}
	next := fn(cur)

	ng, err := v.gen.Bump(ctx, sk)
	if err != nil {
		v.hooks.GenBumpError(sk, err)
		_ = v.provider.Del(ctx, sk)
		return false, fmt.Errorf("gen bump %s: %w", sk, err)
	}
	if ng != g+1 {
		v.selfHeal(ctx, sk, "mutate_conflict")
		return false, nil
	}
	if err := v.write(ctx, sk, next, ng); err != nil {
		return false, err
	}
	return true, nil
}
