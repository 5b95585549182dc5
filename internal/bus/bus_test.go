package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tabauth/internal/metrics"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestBus(t *testing.T, rdb *redis.Client, source string, disableChannel bool, m *metrics.Metrics) *Bus {
	t.Helper()
	b := New(rdb, Config{
		Channel:        "app:bus",
		StreamKey:      "app:bus:events",
		EventTTL:       5 * time.Second,
		WatchInterval:  10 * time.Millisecond,
		DisableChannel: disableChannel,
		Source:         source,
		Metrics:        m,
	})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishReachesOtherTabOnBothPaths(t *testing.T) {
	_, rdb := newTestRedis(t)
	m := metrics.New(metrics.Config{Enabled: true})

	a := newTestBus(t, rdb, "tab-a", false, nil)
	b := newTestBus(t, rdb, "tab-b", false, m)
	if !b.ChannelAvailable() {
		t.Fatal("expected channel to be available")
	}

	var got recorder
	b.Subscribe(got.handle)

	ev, err := a.Publish(context.Background(), "User@x.com")
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return len(got.snapshot()) == 2 })
	for _, e := range got.snapshot() {
		if e.Key() != ev.Key() {
			t.Fatalf("expected same logical event, got %+v want %+v", e, ev)
		}
	}
	if m.Value(metrics.BusChannelDelivered) != 1 || m.Value(metrics.BusStorageDelivered) != 1 {
		t.Fatalf("expected one delivery per path, channel=%d storage=%d",
			m.Value(metrics.BusChannelDelivered), m.Value(metrics.BusStorageDelivered))
	}
}

func TestPublisherSeesOwnEventOnlyThroughStream(t *testing.T) {
	_, rdb := newTestRedis(t)
	m := metrics.New(metrics.Config{Enabled: true})

	a := newTestBus(t, rdb, "tab-a", false, m)
	var got recorder
	a.Subscribe(got.handle)

	if _, err := a.Publish(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool { return len(got.snapshot()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := len(got.snapshot()); n != 1 {
		t.Fatalf("expected exactly one self delivery, got %d", n)
	}
	if m.Value(metrics.BusChannelDelivered) != 0 {
		t.Fatal("channel must not deliver to the publishing tab")
	}
}

func TestStorageOnlyDegradation(t *testing.T) {
	_, rdb := newTestRedis(t)

	a := newTestBus(t, rdb, "tab-a", true, nil)
	b := newTestBus(t, rdb, "tab-b", true, nil)
	if b.ChannelAvailable() {
		t.Fatal("expected channel to be disabled")
	}

	var got recorder
	b.Subscribe(got.handle)

	if _, err := a.Publish(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, func() bool { return len(got.snapshot()) == 1 })
}

func TestBackToBackPublishesAreAllDelivered(t *testing.T) {
	_, rdb := newTestRedis(t)

	a := newTestBus(t, rdb, "tab-a", true, nil)
	b := New(rdb, Config{
		Channel:        "app:bus",
		StreamKey:      "app:bus:events",
		EventTTL:       5 * time.Second,
		WatchInterval:  100 * time.Millisecond,
		DisableChannel: true,
		Source:         "tab-b",
	})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	var got recorder
	b.Subscribe(got.handle)

	for _, email := range []string{"first@x.com", "second@x.com", "third@x.com"} {
		if _, err := a.Publish(context.Background(), email); err != nil {
			t.Fatalf("Publish(%s) failed: %v", email, err)
		}
	}

	waitFor(t, func() bool { return len(got.snapshot()) == 3 })
	evs := got.snapshot()
	for i, want := range []string{"first@x.com", "second@x.com", "third@x.com"} {
		if evs[i].Email != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, evs[i].Email)
		}
	}
}

func TestStreamSelfExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	a := newTestBus(t, rdb, "tab-a", true, nil)

	if _, err := a.Publish(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if ttl := mr.TTL("app:bus:events"); ttl <= 0 || ttl > 5*time.Second {
		t.Fatalf("expected stream TTL within 5s, got %v", ttl)
	}
	mr.FastForward(6 * time.Second)
	if mr.Exists("app:bus:events") {
		t.Fatal("expected stream to expire")
	}
}

func addRaw(t *testing.T, rdb *redis.Client, payload string) {
	t.Helper()
	err := rdb.XAdd(context.Background(), &redis.XAddArgs{
		Stream: "app:bus:events",
		Values: map[string]any{streamField: payload},
	}).Err()
	if err != nil {
		t.Fatalf("XAdd failed: %v", err)
	}
}

func TestBaselineIsNotDelivered(t *testing.T) {
	_, rdb := newTestRedis(t)
	addRaw(t, rdb, `{"type":"email_verified","email":"old@x.com","timestamp":1}`)

	b := newTestBus(t, rdb, "tab-b", true, nil)
	var got recorder
	b.Subscribe(got.handle)

	time.Sleep(60 * time.Millisecond)
	if n := len(got.snapshot()); n != 0 {
		t.Fatalf("expected entries older than Start to be ignored, got %d events", n)
	}
}

func TestMalformedValuesAreSkipped(t *testing.T) {
	mr, rdb := newTestRedis(t)
	m := metrics.New(metrics.Config{Enabled: true})

	b := newTestBus(t, rdb, "tab-b", false, m)
	var got recorder
	b.Subscribe(got.handle)

	addRaw(t, rdb, "not-json")
	mr.Publish("app:bus", `{"type":"other","email":"a@x.com","timestamp":5}`)

	waitFor(t, func() bool { return m.Value(metrics.BusDecodeFailure) == 2 })

	addRaw(t, rdb, `{"type":"email_verified","email":"a@x.com","timestamp":9}`)
	waitFor(t, func() bool { return len(got.snapshot()) == 1 })
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := newTestBus(t, rdb, "tab-a", true, nil)

	var got recorder
	unsub := a.Subscribe(got.handle)
	unsub()
	unsub()

	if _, err := a.Publish(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(got.snapshot()); n != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", n)
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := newTestBus(t, rdb, "tab-a", false, nil)
	b := newTestBus(t, rdb, "tab-b", false, nil)

	var got recorder
	b.Subscribe(got.handle)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := b.Start(context.Background()); err != ErrBusClosed {
		t.Fatalf("expected ErrBusClosed, got %v", err)
	}

	if _, err := a.Publish(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(got.snapshot()); n != 0 {
		t.Fatalf("expected no delivery after Close, got %d", n)
	}
}

func TestEventKeyNormalizesEmail(t *testing.T) {
	a := Event{Type: TypeEmailVerified, Email: "User@X.com", Timestamp: 42}
	b := Event{Type: TypeEmailVerified, Email: "user@x.com ", Timestamp: 42}
	if a.Key() != b.Key() {
		t.Fatalf("expected equal keys, got %q and %q", a.Key(), b.Key())
	}
	c := Event{Type: TypeEmailVerified, Email: "user@x.com", Timestamp: 43}
	if a.Key() == c.Key() {
		t.Fatal("expected different timestamps to differ")
	}
}
