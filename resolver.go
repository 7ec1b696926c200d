package touristcache

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/touristcache/tourist"
)

// resolver serves lookups from the views and falls back to the store on miss.
type resolver struct {
	views   *viewSet
	store   RemoteStore
	timeout time.Duration
	enabled bool
	log     Logger
	hooks   Hooks
}

func (r *resolver) byID(ctx context.Context, id string) (tourist.Tourist, error) {
	return readThrough(ctx, r, r.views.byID, id, func(ctx context.Context) (tourist.Tourist, error) {
		return r.store.GetByID(ctx, id)
	})
}

func (r *resolver) byEmail(ctx context.Context, email string) (tourist.Tourist, error) {
	return readThrough(ctx, r, r.views.byEmail, email, func(ctx context.Context) (tourist.Tourist, error) {
		return r.store.GetByEmail(ctx, email)
	})
}

func (r *resolver) byPhone(ctx context.Context, phone string) (tourist.Tourist, error) {
	return readThrough(ctx, r, r.views.byPhone, phone, func(ctx context.Context) (tourist.Tourist, error) {
		return r.store.GetByPhone(ctx, phone)
	})
}

func (r *resolver) byNameSurname(ctx context.Context, name, surname string) ([]tourist.Tourist, error) {
	if name == "" || surname == "" {
		return nil, ErrNotFound
	}
	key := tourist.NameSurnameKey(name, surname)
	return readThrough(ctx, r, r.views.byNameSurname, key, func(ctx context.Context) ([]tourist.Tourist, error) {
		return r.store.GetByNameAndSurname(ctx, name, surname)
	})
}

func (r *resolver) all(ctx context.Context) ([]tourist.Tourist, error) {
	return readThrough(ctx, r, r.views.all, AllKey, func(ctx context.Context) ([]tourist.Tourist, error) {
		return r.store.GetAll(ctx)
	})
}

// readThrough returns the cached value under key, or fetches, populates and
// returns it. Not-found is returned as is and never populated.
func readThrough[V any](
	ctx context.Context,
	r *resolver,
	v *view[V],
	key string,
	fetch func(context.Context) (V, error),
) (V, error) {
	var zero V
	if key == "" {
		return zero, ErrNotFound
	}
	if !r.enabled {
		return fetchRemote(ctx, r, v.name, key, fetch)
	}

	if val, ok := v.Get(ctx, key); ok {
		return val, nil
	}

	// snapshot before the remote call so a result applied meanwhile wins
	obs, snapErr := v.SnapshotGen(ctx, key)
	val, err := fetchRemote(ctx, r, v.name, key, fetch)
	if err != nil {
		return zero, err
	}
	if snapErr != nil {
		r.log.Warn("populate skipped (gen snapshot error)", Fields{"view": v.name, "key": key, "err": snapErr})
		return val, nil
	}
	if err := v.SetWithGen(ctx, key, val, obs); err != nil {
		r.log.Warn("populate failed", Fields{"view": v.name, "key": key, "err": err})
	}
	return val, nil
}

// fetchRemote calls the store under r.timeout. Every failure other than
// not-found is reported as ErrRemoteUnavailable.
func fetchRemote[V any](ctx context.Context, r *resolver, viewName, key string, fetch func(context.Context) (V, error)) (V, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	val, err := fetch(ctx)
	if err == nil {
		return val, nil
	}
	var zero V
	if errors.Is(err, ErrNotFound) {
		return zero, err
	}
	r.hooks.RemoteFetchFailed(viewName, key, err)
	r.log.Warn("remote fetch failed", Fields{"view": viewName, "key": key, "err": err})
	return zero, remoteUnavailable("fetch "+viewName, err)
}
