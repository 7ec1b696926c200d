package touristcache

import (
	"time"

	c "github.com/unkn0wn-root/touristcache/codec"
	gen "github.com/unkn0wn-root/touristcache/genstore"
	pr "github.com/unkn0wn-root/touristcache/provider"
	"github.com/unkn0wn-root/touristcache/tourist"
)

// viewSet holds the five views. It is built once per gateway and shared by
// the resolver and the result subscribers.
type viewSet struct {
	all           *view[[]tourist.Tourist]
	byID          *view[tourist.Tourist]
	byEmail       *view[tourist.Tourist]
	byPhone       *view[tourist.Tourist]
	byNameSurname *view[[]tourist.Tourist]
}

type viewDeps struct {
	ns       string
	provider pr.Provider
	gen      gen.GenStore
	log      Logger
	hooks    Hooks
	cost     SetCostFunc
	ttl      time.Duration
	ttls     map[string]time.Duration
}

func (d viewDeps) ttlFor(name string) time.Duration {
	if ttl, ok := d.ttls[name]; ok && ttl > 0 {
		return ttl
	}
	return d.ttl
}

func newSingleView(d viewDeps, name string, codec c.Codec[tourist.Tourist]) *view[tourist.Tourist] {
	return &view[tourist.Tourist]{
		name:     name,
		kind:     kindSingle,
		ns:       d.ns,
		ttl:      d.ttlFor(name),
		provider: d.provider,
		codec:    codec,
		gen:      d.gen,
		log:      d.log,
		hooks:    d.hooks,
		cost:     d.cost,
	}
}

func newListView(d viewDeps, name string, codec c.Codec[[]tourist.Tourist]) *view[[]tourist.Tourist] {
	return &view[[]tourist.Tourist]{
		name:     name,
		kind:     kindList,
		ns:       d.ns,
		ttl:      d.ttlFor(name),
		provider: d.provider,
		codec:    codec,
		gen:      d.gen,
		log:      d.log,
		hooks:    d.hooks,
		cost:     d.cost,
	}
}

func newViewSet(d viewDeps, item c.Codec[tourist.Tourist]) *viewSet {
	list := c.List[tourist.Tourist]{
		Item: item,
		Key:  func(t tourist.Tourist) string { return t.ID },
	}
	return &viewSet{
		all:           newListView(d, ViewAll, list),
		byID:          newSingleView(d, ViewByID, item),
		byEmail:       newSingleView(d, ViewByEmail, item),
		byPhone:       newSingleView(d, ViewByPhone, item),
		byNameSurname: newListView(d, ViewByNameSurname, list),
	}
}
