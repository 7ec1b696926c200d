package genstore

import (
	"context"
	"testing"
	"time"
)

func TestLocalSnapshotZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	if g, _ := s.Snapshot(ctx, "a"); g != 0 {
		t.Fatalf("missing key: got %d want 0", g)
	}
	if g, _ := s.Snapshot(ctx, "b"); g != 2 {
		t.Fatalf("bumped twice: got %d want 2", g)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := s.Bump(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(10 * time.Millisecond)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "fresh"); g != 1 {
		t.Fatalf("fresh entry pruned, got %d", g)
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want 1", s.Len())
	}
}

func TestLocalCloseIdempotent(t *testing.T) {
	s := NewLocalGenStore(time.Hour, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
