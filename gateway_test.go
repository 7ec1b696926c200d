package touristcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/touristcache/bus"
	"github.com/unkn0wn-root/touristcache/bus/memory"
	pr "github.com/unkn0wn-root/touristcache/provider"
	"github.com/unkn0wn-root/touristcache/tourist"
)

// ==============================
// Test doubles
// ==============================

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	now    time.Time
	getErr error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider {
	return &memProvider{m: make(map[string]memEntry), now: time.Unix(1_700_000_000, 0)}
}

func (p *memProvider) advance(d time.Duration) {
	p.mu.Lock()
	p.now = p.now.Add(d)
	p.mu.Unlock()
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !p.now.Before(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = p.now.Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

// fakeStore is a RemoteStore over a map that counts calls per lookup.
type fakeStore struct {
	mu    sync.Mutex
	byID  map[string]tourist.Tourist
	calls map[string]int
	err   error
	// onFetch runs inside every lookup, before the answer is computed.
	onFetch func(ctx context.Context)
}

var _ RemoteStore = (*fakeStore)(nil)

func newFakeStore(ts ...tourist.Tourist) *fakeStore {
	s := &fakeStore{byID: make(map[string]tourist.Tourist), calls: make(map[string]int)}
	for _, t := range ts {
		s.byID[t.ID] = t
	}
	return s
}

func (s *fakeStore) enter(ctx context.Context, call string) error {
	s.mu.Lock()
	s.calls[call]++
	err, hook := s.err, s.onFetch
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return err
}

func (s *fakeStore) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[call]
}

func (s *fakeStore) put(t tourist.Tourist) {
	s.mu.Lock()
	s.byID[t.ID] = t
	s.mu.Unlock()
}

func (s *fakeStore) find(match func(tourist.Tourist) bool) []tourist.Tourist {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []tourist.Tourist{}
	for _, t := range s.byID {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeStore) one(match func(tourist.Tourist) bool) (tourist.Tourist, error) {
	if found := s.find(match); len(found) > 0 {
		return found[0], nil
	}
	return tourist.Tourist{}, tourist.ErrNotFound
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (tourist.Tourist, error) {
	if err := s.enter(ctx, "id:"+id); err != nil {
		return tourist.Tourist{}, err
	}
	return s.one(func(t tourist.Tourist) bool { return t.ID == id })
}

func (s *fakeStore) GetByEmail(ctx context.Context, email string) (tourist.Tourist, error) {
	if err := s.enter(ctx, "email:"+email); err != nil {
		return tourist.Tourist{}, err
	}
	return s.one(func(t tourist.Tourist) bool { return t.Email == email })
}

func (s *fakeStore) GetByPhone(ctx context.Context, phone string) (tourist.Tourist, error) {
	if err := s.enter(ctx, "phone:"+phone); err != nil {
		return tourist.Tourist{}, err
	}
	return s.one(func(t tourist.Tourist) bool { return t.PhoneNumber == phone })
}

func (s *fakeStore) GetByNameAndSurname(ctx context.Context, name, surname string) ([]tourist.Tourist, error) {
	if err := s.enter(ctx, "name:"+name+"-"+surname); err != nil {
		return nil, err
	}
	return s.find(func(t tourist.Tourist) bool { return t.Name == name && t.Surname == surname }), nil
}

func (s *fakeStore) GetAll(ctx context.Context) ([]tourist.Tourist, error) {
	if err := s.enter(ctx, "all"); err != nil {
		return nil, err
	}
	return s.find(func(tourist.Tourist) bool { return true }), nil
}

// recordingHooks counts hook calls by name.
type recordingHooks struct {
	NopHooks
	mu    sync.Mutex
	calls map[string]int
}

func newRecordingHooks() *recordingHooks { return &recordingHooks{calls: make(map[string]int)} }

func (h *recordingHooks) inc(name string) {
	h.mu.Lock()
	h.calls[name]++
	h.mu.Unlock()
}

func (h *recordingHooks) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

func (h *recordingHooks) SelfHeal(_, reason string)               { h.inc("self_heal:" + reason) }
func (h *recordingHooks) ProviderGetError(string, error)          { h.inc("provider_get_error") }
func (h *recordingHooks) RemoteFetchFailed(string, string, error) { h.inc("remote_fetch_failed") }
func (h *recordingHooks) ResultDropped(string, error)             { h.inc("result_dropped") }
func (h *recordingHooks) StaleApply(view, _, _ string)            { h.inc("stale_apply:" + view) }
func (h *recordingHooks) EvictOutage(string, error, error)        { h.inc("evict_outage") }
func (h *recordingHooks) GenSnapshotError(string, error)          { h.inc("gen_snapshot_error") }

func ann() tourist.Tourist {
	return tourist.Tourist{ID: "1", Name: "Ann", Surname: "Lee", Email: "a@x.com", PhoneNumber: "555", Country: "US"}
}

func bob() tourist.Tourist {
	return tourist.Tourist{ID: "2", Name: "Bob", Surname: "Ray", Email: "b@x.com", PhoneNumber: "777", Country: "DE"}
}

type testEnv struct {
	g     *gateway
	mp    *memProvider
	store *fakeStore
	bus   *memory.Bus
	hooks *recordingHooks
}

func newTestEnv(t *testing.T, store *fakeStore, optsOpt func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		mp:    newMemProvider(),
		store: store,
		bus:   memory.New(memory.Options{}),
		hooks: newRecordingHooks(),
	}
	opts := Options{
		Namespace: "test",
		Provider:  env.mp,
		Store:     store,
		Bus:       env.bus,
		Hooks:     env.hooks,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	g, err := newGateway(opts)
	if err != nil {
		t.Fatalf("newGateway: %v", err)
	}
	env.g = g
	t.Cleanup(func() {
		_ = g.Close(context.Background())
		_ = env.bus.Close(context.Background())
	})
	return env
}

func (e *testEnv) views() *viewSet { return e.g.res.views }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ==============================
// Construction and lifecycle
// ==============================

func TestNewRequiresCollaborators(t *testing.T) {
	base := Options{Namespace: "ns", Provider: newMemProvider(), Store: newFakeStore(), Bus: memory.New(memory.Options{})}
	cases := map[string]func(*Options){
		"namespace": func(o *Options) { o.Namespace = "" },
		"provider":  func(o *Options) { o.Provider = nil },
		"store":     func(o *Options) { o.Store = nil },
		"bus":       func(o *Options) { o.Bus = nil },
	}
	for name, mutate := range cases {
		o := base
		mutate(&o)
		if _, err := New(o); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCloseIsIdempotentAndRejectsCalls(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeStore(ann()), nil)

	if err := env.g.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := env.g.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := env.g.TouristByID(ctx, "1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
	if err := env.g.Create(ctx, ann()); !errors.Is(err, ErrClosed) {
		t.Fatalf("create after close: %v", err)
	}
}

// ==============================
// Mutation publishing
// ==============================

func TestMalformedMutationNeverReachesBus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeStore(), nil)

	bad := ann()
	bad.Email = ""
	if err := env.g.Create(ctx, bad); !errors.Is(err, ErrMalformedMutation) || !errors.Is(err, tourist.ErrInvalid) {
		t.Fatalf("create invalid: %v", err)
	}
	if err := env.g.Update(ctx, "", ann()); !errors.Is(err, ErrMalformedMutation) {
		t.Fatalf("update without id: %v", err)
	}
	if err := env.g.Update(ctx, "9", ann()); !errors.Is(err, ErrMalformedMutation) {
		t.Fatalf("update with mismatched id: %v", err)
	}
	if err := env.g.Delete(ctx, ""); !errors.Is(err, ErrMalformedMutation) {
		t.Fatalf("delete without id: %v", err)
	}
	for _, rk := range []string{bus.RouteCreate, bus.RouteUpdate, bus.RouteDelete} {
		if n := env.bus.Pending(rk); n != 0 {
			t.Fatalf("%s: %d messages published", rk, n)
		}
	}
}

func TestMutationsPublishCommands(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeStore(), nil)

	if err := env.g.Create(ctx, ann()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	changed := ann()
	changed.ID = ""
	if err := env.g.Update(ctx, "1", changed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := env.g.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got := make(chan bus.Message, 3)
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, rk := range []string{bus.RouteCreate, bus.RouteUpdate, bus.RouteDelete} {
		rk := rk
		go func() {
			_ = env.bus.Subscribe(sctx, rk, func(_ context.Context, m bus.Message) error {
				got <- m
				return nil
			})
		}()
	}

	byKey := make(map[string]bus.Message)
	for i := 0; i < 3; i++ {
		select {
		case m := <-got:
			byKey[m.RoutingKey] = m
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for commands, got %d", len(byKey))
		}
	}

	upd, err := env.g.prop.codec.Decode(byKey[bus.RouteUpdate].Body)
	if err != nil || upd.ID != "1" || upd.Email != "a@x.com" {
		t.Fatalf("update body: %+v err=%v", upd, err)
	}
	if byKey[bus.RouteUpdate].ContentType != bus.ContentTypeProtobuf {
		t.Fatalf("update content type %q", byKey[bus.RouteUpdate].ContentType)
	}
	del := byKey[bus.RouteDelete]
	if del.ContentType != bus.ContentTypeText || string(del.Body) != "1" {
		t.Fatalf("delete command: %+v", del)
	}
}

func TestPublishFailureIsRemoteUnavailable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeStore(), nil)
	_ = env.bus.Close(ctx)

	err := env.g.Create(ctx, ann())
	if !errors.Is(err, ErrRemoteUnavailable) || !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("expected ErrRemoteUnavailable wrapping bus.ErrClosed, got %v", err)
	}
}

// ==============================
// Result subscribers
// ==============================

// TestAnnLeeRoundTrip drives create and delete through the bus, with the test
// playing the domain service.
func TestAnnLeeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	env := newTestEnv(t, store, nil)

	// the all view is populated as []
	all, err := env.g.AllTourists(ctx)
	if err != nil || len(all) != 0 {
		t.Fatalf("AllTourists: %v %v", all, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = env.bus.Subscribe(sctx, bus.RouteCreate, func(ctx context.Context, m bus.Message) error {
			created, err := env.g.prop.codec.Decode(m.Body)
			if err != nil {
				return err
			}
			store.put(created)
			return env.bus.Publish(ctx, bus.Message{
				RoutingKey: bus.RouteCreateResult, ContentType: bus.ContentTypeProtobuf, Body: m.Body,
			})
		})
	}()
	go func() {
		_ = env.bus.Subscribe(sctx, bus.RouteDelete, func(ctx context.Context, m bus.Message) error {
			return env.bus.Publish(ctx, bus.Message{
				RoutingKey: bus.RouteDeleteResult, ContentType: bus.ContentTypeText, Body: m.Body,
			})
		})
	}()

	if err := env.g.Create(ctx, ann()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	v := env.views()
	waitFor(t, "create result", func() bool {
		list, ok := v.all.Get(ctx, AllKey)
		return ok && len(list) == 1
	})
	for name, get := range map[string]func() (tourist.Tourist, bool){
		"by-id":    func() (tourist.Tourist, bool) { return v.byID.Get(ctx, "1") },
		"by-email": func() (tourist.Tourist, bool) { return v.byEmail.Get(ctx, "a@x.com") },
		"by-phone": func() (tourist.Tourist, bool) { return v.byPhone.Get(ctx, "555") },
	} {
		if got, ok := get(); !ok || got != ann() {
			t.Fatalf("%s: ok=%v got=%+v", name, ok, got)
		}
	}
	if list, _ := v.all.Get(ctx, AllKey); list[0] != ann() {
		t.Fatalf("all view: %+v", list)
	}

	if err := env.g.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitFor(t, "delete result", func() bool {
		list, ok := v.all.Get(ctx, AllKey)
		return ok && len(list) == 0
	})
	if _, ok := v.byID.Get(ctx, "1"); ok {
		t.Fatalf("by-id still holds deleted tourist")
	}
	if _, ok := v.byEmail.Get(ctx, "a@x.com"); ok {
		t.Fatalf("by-email still holds deleted tourist")
	}
	if _, ok := v.byPhone.Get(ctx, "555"); ok {
		t.Fatalf("by-phone still holds deleted tourist")
	}
}

func TestUndecodableResultIsDroppedAndSubscriberSurvives(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeStore(), nil)

	garbage := bus.Message{RoutingKey: bus.RouteCreateResult, ContentType: bus.ContentTypeProtobuf, Body: []byte{0xFF}}
	if err := env.bus.Publish(ctx, garbage); err != nil {
		t.Fatalf("publish: %v", err)
	}
	body, _ := env.g.prop.codec.Encode(ann())
	if err := env.bus.Publish(ctx, bus.Message{RoutingKey: bus.RouteCreateResult, ContentType: bus.ContentTypeProtobuf, Body: body}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, "valid result after garbage", func() bool {
		_, ok := env.views().byID.Get(ctx, "1")
		return ok
	})
	if n := env.hooks.count("result_dropped"); n != 1 {
		t.Fatalf("result_dropped=%d want 1", n)
	}
}

func TestIDOnlyCreateResultIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeStore(ann()), nil)
	_, _ = env.g.AllTourists(ctx)

	if err := env.bus.Publish(ctx, bus.Message{RoutingKey: bus.RouteCreateResult, ContentType: bus.ContentTypeText, Body: []byte("7")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "drop", func() bool { return env.hooks.count("result_dropped") == 1 })
	v := env.views()
	if _, ok := v.byID.Get(ctx, "7"); ok {
		t.Fatalf("id-only record cached in by-id")
	}
	if all, _ := v.all.Get(ctx, AllKey); len(all) != 1 {
		t.Fatalf("all view changed: %v", all)
	}
}

func TestOversizedResultIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeStore(), func(o *Options) { o.MaxResultSize = 8 })

	body, _ := env.g.prop.codec.Encode(ann())
	if err := env.bus.Publish(ctx, bus.Message{RoutingKey: bus.RouteUpdateResult, ContentType: bus.ContentTypeProtobuf, Body: body}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "drop", func() bool { return env.hooks.count("result_dropped") == 1 })
	if _, ok := env.views().byID.Get(ctx, "1"); ok {
		t.Fatalf("oversized result was applied")
	}
}

func TestSkipResultSubscribersLeavesResultsQueued(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, newFakeStore(), func(o *Options) { o.SkipResultSubscribers = true })

	body, _ := env.g.prop.codec.Encode(ann())
	if err := env.bus.Publish(ctx, bus.Message{RoutingKey: bus.RouteCreateResult, ContentType: bus.ContentTypeProtobuf, Body: body}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := env.bus.Pending(bus.RouteCreateResult); n != 1 {
		t.Fatalf("pending=%d want 1", n)
	}
	if err := env.g.Create(ctx, bob()); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

// flakyBus fails the first Subscribe calls, then delegates.
type flakyBus struct {
	*memory.Bus
	mu    sync.Mutex
	fails map[string]int
}

func (b *flakyBus) Subscribe(ctx context.Context, rk string, h bus.Handler) error {
	b.mu.Lock()
	if b.fails[rk] > 0 {
		b.fails[rk]--
		b.mu.Unlock()
		return errors.New("connection reset")
	}
	b.mu.Unlock()
	return b.Bus.Subscribe(ctx, rk, h)
}

func TestSubscriberResubscribesAfterFailure(t *testing.T) {
	ctx := context.Background()
	fb := &flakyBus{Bus: memory.New(memory.Options{}), fails: map[string]int{bus.RouteCreateResult: 2}}
	env := newTestEnv(t, newFakeStore(), func(o *Options) {
		o.Bus = fb
		o.ResubscribeMaxInterval = 20 * time.Millisecond
	})

	body, _ := env.g.prop.codec.Encode(ann())
	if err := fb.Publish(ctx, bus.Message{RoutingKey: bus.RouteCreateResult, ContentType: bus.ContentTypeProtobuf, Body: body}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "result after resubscribe", func() bool {
		_, ok := env.views().byID.Get(ctx, "1")
		return ok
	})
}
