// Package asynchook runs touristcache.Hooks on a bounded worker queue so that
// slow hook implementations never stall reads or result subscribers.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:   10, // sample logs: ~every 10th self-heal
//	    StaleApplyEvery: 100,
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	gw, _ := touristcache.New(touristcache.Options{
//	    Namespace: "app:prod",
//	    Provider:  provider,
//	    Store:     store,
//	    Bus:       b,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/touristcache"
)

type Hooks struct {
	inner   touristcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ touristcache.Hooks = (*Hooks)(nil)

func New(inner touristcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)                 { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderGetError(k string, err error) { h.try(func() { h.inner.ProviderGetError(k, err) }) }
func (h *Hooks) ProviderSetRejected(k string)         { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) GenSnapshotError(k string, err error) { h.try(func() { h.inner.GenSnapshotError(k, err) }) }
func (h *Hooks) GenBumpError(k string, err error)     { h.try(func() { h.inner.GenBumpError(k, err) }) }
func (h *Hooks) ResultDropped(rk string, err error)   { h.try(func() { h.inner.ResultDropped(rk, err) }) }
func (h *Hooks) EvictOutage(k string, be, de error) {
	h.try(func() { h.inner.EvictOutage(k, be, de) })
}
func (h *Hooks) RemoteFetchFailed(view, key string, err error) {
	h.try(func() { h.inner.RemoteFetchFailed(view, key, err) })
}
func (h *Hooks) StaleApply(view, key, kind string) {
	h.try(func() { h.inner.StaleApply(view, key, kind) })
}
