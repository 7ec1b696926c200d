package touristcache

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/unkn0wn-root/touristcache/bus"
	c "github.com/unkn0wn-root/touristcache/codec"
	"github.com/unkn0wn-root/touristcache/tourist"
)

// Mutation kinds, as reported to Hooks.StaleApply.
const (
	kindCreate = "create"
	kindUpdate = "update"
	kindDelete = "delete"
)

// propagator publishes mutation commands and applies mutation results to the views.
type propagator struct {
	views *viewSet
	bus   bus.Bus
	codec c.Codec[tourist.Tourist]
	log   Logger
	hooks Hooks
}

func (p *propagator) create(ctx context.Context, t tourist.Tourist) error {
	if err := t.Validate(); err != nil {
		return malformed(err)
	}
	return p.publishEntity(ctx, bus.RouteCreate, t)
}

func (p *propagator) update(ctx context.Context, id string, t tourist.Tourist) error {
	if id == "" {
		return malformed(fmt.Errorf("%w: id is required", tourist.ErrInvalid))
	}
	if t.ID != "" && t.ID != id {
		return malformed(fmt.Errorf("%w: id %q does not match %q", tourist.ErrInvalid, t.ID, id))
	}
	t.ID = id
	if err := t.Validate(); err != nil {
		return malformed(err)
	}
	return p.publishEntity(ctx, bus.RouteUpdate, t)
}

func (p *propagator) delete(ctx context.Context, id string) error {
	if id == "" {
		return malformed(fmt.Errorf("%w: id is required", tourist.ErrInvalid))
	}
	return p.publish(ctx, bus.Message{
		RoutingKey:  bus.RouteDelete,
		ContentType: bus.ContentTypeText,
		Body:        []byte(id),
	})
}

func (p *propagator) publishEntity(ctx context.Context, routingKey string, t tourist.Tourist) error {
	body, err := p.codec.Encode(t)
	if err != nil {
		return malformed(err)
	}
	return p.publish(ctx, bus.Message{
		RoutingKey:  routingKey,
		ContentType: bus.ContentTypeProtobuf,
		Body:        body,
	})
}

func (p *propagator) publish(ctx context.Context, m bus.Message) error {
	if err := p.bus.Publish(ctx, m); err != nil {
		return remoteUnavailable("publish "+m.RoutingKey, err)
	}
	p.log.Debug("mutation published", Fields{"routingKey": m.RoutingKey})
	return nil
}

// decodeResult reads a result body. A text/plain body carries only the id and
// is accepted on the delete route only: create and update results must carry
// the whole record the views will serve.
func (p *propagator) decodeResult(m bus.Message) (tourist.Tourist, error) {
	if m.ContentType == bus.ContentTypeText {
		if m.RoutingKey != bus.RouteDeleteResult {
			return tourist.Tourist{}, fmt.Errorf("id-only result on %s", m.RoutingKey)
		}
		if len(m.Body) == 0 {
			return tourist.Tourist{}, errors.New("empty id")
		}
		return tourist.Tourist{ID: string(m.Body)}, nil
	}
	t, err := p.codec.Decode(m.Body)
	if err != nil {
		return tourist.Tourist{}, fmt.Errorf("decode result: %w", err)
	}
	if t.ID == "" {
		return tourist.Tourist{}, errors.New("result without id")
	}
	return t, nil
}

// applyCreate puts the new tourist in the single views and appends it to the
// lists that are already cached.
func (p *propagator) applyCreate(ctx context.Context, t tourist.Tourist) error {
	err := p.putSingles(ctx, t)
	err = multierr.Append(err, p.mutateList(ctx, p.views.all, AllKey, kindCreate, upsert(t)))
	err = multierr.Append(err, p.mutateList(ctx, p.views.byNameSurname, nameSurnameKey(t), kindCreate, upsert(t)))
	return err
}

// applyUpdate retires the keys of the previous copy that no longer index the
// tourist, then writes the new copy everywhere it is indexed.
func (p *propagator) applyUpdate(ctx context.Context, t tourist.Tourist) error {
	var err error
	if old, ok := p.views.byID.Get(ctx, t.ID); ok {
		if old.Email != "" && old.Email != t.Email {
			err = multierr.Append(err, p.views.byEmail.Evict(ctx, old.Email))
		}
		if old.PhoneNumber != "" && old.PhoneNumber != t.PhoneNumber {
			err = multierr.Append(err, p.views.byPhone.Evict(ctx, old.PhoneNumber))
		}
		if oldKey := nameSurnameKey(old); oldKey != nameSurnameKey(t) {
			err = multierr.Append(err, p.mutateList(ctx, p.views.byNameSurname, oldKey, kindUpdate, without(t.ID)))
		}
	}
	err = multierr.Append(err, p.putSingles(ctx, t))
	err = multierr.Append(err, p.mutateList(ctx, p.views.all, AllKey, kindUpdate, upsert(t)))
	err = multierr.Append(err, p.mutateList(ctx, p.views.byNameSurname, nameSurnameKey(t), kindUpdate, upsert(t)))
	return err
}

// applyDelete evicts the tourist from every view. A result that carries only
// the id is completed from the by-id view when it is cached there. Keys of
// the cached copy are evicted along with the result's own, since an update
// result may not have been applied yet.
func (p *propagator) applyDelete(ctx context.Context, t tourist.Tourist) error {
	emails := []string{t.Email}
	phones := []string{t.PhoneNumber}
	lists := []string{nameSurnameKey(t)}
	if old, ok := p.views.byID.Get(ctx, t.ID); ok {
		emails = append(emails, old.Email)
		phones = append(phones, old.PhoneNumber)
		lists = append(lists, nameSurnameKey(old))
	}

	err := p.views.byID.Evict(ctx, t.ID)
	for _, email := range distinct(emails) {
		err = multierr.Append(err, p.views.byEmail.Evict(ctx, email))
	}
	for _, phone := range distinct(phones) {
		err = multierr.Append(err, p.views.byPhone.Evict(ctx, phone))
	}
	err = multierr.Append(err, p.mutateList(ctx, p.views.all, AllKey, kindDelete, without(t.ID)))
	for _, key := range distinct(lists) {
		err = multierr.Append(err, p.mutateList(ctx, p.views.byNameSurname, key, kindDelete, without(t.ID)))
	}
	return err
}

func (p *propagator) putSingles(ctx context.Context, t tourist.Tourist) error {
	err := p.views.byID.Put(ctx, t.ID, t)
	if t.Email != "" {
		err = multierr.Append(err, p.views.byEmail.Put(ctx, t.Email, t))
	}
	if t.PhoneNumber != "" {
		err = multierr.Append(err, p.views.byPhone.Put(ctx, t.PhoneNumber, t))
	}
	return err
}

// mutateList applies fn to a cached list; an uncached list is never warmed.
func (p *propagator) mutateList(
	ctx context.Context,
	v *view[[]tourist.Tourist],
	key, kind string,
	fn func([]tourist.Tourist) []tourist.Tourist,
) error {
	if key == "" {
		return nil
	}
	applied, err := v.Mutate(ctx, key, fn)
	if err != nil {
		return err
	}
	if !applied {
		p.hooks.StaleApply(v.name, key, kind)
		p.log.Debug("stale apply skipped", Fields{"view": v.name, "key": key, "kind": kind})
	}
	return nil
}

func upsert(t tourist.Tourist) func([]tourist.Tourist) []tourist.Tourist {
	return func(list []tourist.Tourist) []tourist.Tourist { return tourist.Upsert(list, t) }
}

func without(id string) func([]tourist.Tourist) []tourist.Tourist {
	return func(list []tourist.Tourist) []tourist.Tourist { return tourist.Without(list, id) }
}

// nameSurnameKey returns "" when t lacks a name or surname.
func nameSurnameKey(t tourist.Tourist) string {
	if t.Name == "" || t.Surname == "" {
		return ""
	}
	return t.NameSurnameKey()
}

// distinct drops empty and repeated keys, keeping order.
func distinct(keys []string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
