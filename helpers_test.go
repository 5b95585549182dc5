package tabauth

import (
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/tabauth/authtest"
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

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestServer(t *testing.T) *authtest.Server {
	t.Helper()
	srv := authtest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.Origin = "test"
	cfg.API.BaseURL = baseURL
	cfg.API.Timeout = 2 * time.Second
	cfg.Bus.EventTTL = 2 * time.Second
	cfg.Bus.WatchInterval = 20 * time.Millisecond
	cfg.Poller.Interval = time.Minute
	cfg.Poller.QueryTimeout = time.Second
	cfg.AutoLogin.LoginTimeout = 2 * time.Second
	return cfg
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []AutoLoginOutcome
}

func (r *outcomeRecorder) record(out AutoLoginOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, out)
	r.mu.Unlock()
}

func (r *outcomeRecorder) all() []AutoLoginOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AutoLoginOutcome(nil), r.outcomes...)
}

type tab struct {
	*Client
	outcomes *outcomeRecorder
}

// newTab builds and starts a client; opts may adjust the builder first.
func newTab(t *testing.T, rdb redis.UniversalClient, cfg Config, opts ...func(*Builder)) *tab {
	t.Helper()

	rec := &outcomeRecorder{}
	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAutoLoginHandler(rec.record)
	for _, opt := range opts {
		opt(b)
	}

	c, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Start(t.Context()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return &tab{Client: c, outcomes: rec}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
