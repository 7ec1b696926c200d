// Package sloghooks implements touristcache.Hooks by logging through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/touristcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery   uint64
	StaleApplyEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	// Storage keys embed emails and phone numbers, so they are redacted by default.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr   atomic.Uint64
	staleApplyCtr atomic.Uint64
}

var _ touristcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("touristcache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderGetError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("touristcache.provider_get_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("touristcache.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("touristcache.gen_snapshot_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("touristcache.gen_bump_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) EvictOutage(storageKey string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("touristcache.evict_outage",
		"key", h.redact(storageKey),
		"bump_err", bumpErr,
		"del_err", delErr)
}

func (h *Hooks) RemoteFetchFailed(view, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("touristcache.remote_fetch_failed",
		"view", view,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) ResultDropped(routingKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("touristcache.result_dropped",
		"routing_key", routingKey,
		"err", err)
}

func (h *Hooks) StaleApply(view, key, kind string) {
	if h.l == nil || !sample(h.opts.StaleApplyEvery, &h.staleApplyCtr) {
		return
	}
	h.l.Debug("touristcache.stale_apply",
		"view", view,
		"key", h.redact(key),
		"kind", kind)
}
