package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/touristcache/bus"
)

func TestMemoryBusOrderedPerKey(t *testing.T) {
	b := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, body := range []string{"1", "2", "3"} {
		require.NoError(t, b.Publish(ctx, bus.Message{RoutingKey: "k", Body: []byte(body)}))
	}

	var (
		mu  sync.Mutex
		got []string
	)
	go func() {
		_ = b.Subscribe(ctx, "k", func(_ context.Context, m bus.Message) error {
			mu.Lock()
			got = append(got, string(m.Body))
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"1", "2", "3"}, got)
}

func TestMemoryBusRedeliversThenDrops(t *testing.T) {
	var (
		mu      sync.Mutex
		dropped []bus.Message
	)
	b := New(Options{MaxRedeliveries: 2, OnDrop: func(m bus.Message, _ error) {
		mu.Lock()
		dropped = append(dropped, m)
		mu.Unlock()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	require.NoError(t, b.Publish(ctx, bus.Message{RoutingKey: "k", Body: []byte("x")}))
	go func() {
		_ = b.Subscribe(ctx, "k", func(context.Context, bus.Message) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return errors.New("boom")
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dropped) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, attempts)
	require.NotEmpty(t, dropped[0].ID)
}

func TestMemoryBusClosed(t *testing.T) {
	b := New(Options{})
	require.NoError(t, b.Close(context.Background()))
	require.ErrorIs(t, b.Publish(context.Background(), bus.Message{RoutingKey: "k"}), bus.ErrClosed)
	require.ErrorIs(t, b.Subscribe(context.Background(), "k", nil), bus.ErrClosed)
}

func TestMemoryBusSubscribeCancel(t *testing.T) {
	b := New(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.Subscribe(ctx, "k", nil), context.Canceled)
}
