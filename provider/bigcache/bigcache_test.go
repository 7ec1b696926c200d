package bigcache

import (
	"context"
	"testing"
	"time"
)

func TestBigCacheMissAndDelete(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{LifeWindow: time.Minute, HardMaxCacheSizeMB: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(ctx) })

	if _, ok, err := p.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if ok, err := p.Set(ctx, "k", []byte("v"), 1, time.Minute); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if b, ok, _ := p.Get(ctx, "k"); !ok || string(b) != "v" {
		t.Fatalf("Get: %q ok=%v", b, ok)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("Del of missing key should be nil, got %v", err)
	}
}

func TestBigCacheRequiresLifeWindow(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without LifeWindow")
	}
}
