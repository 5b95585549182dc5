package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/tabauth"
	"github.com/MrEthical07/tabauth/authtest"
	"github.com/MrEthical07/tabauth/metrics/export/prometheus"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		tabs         = flag.Int("tabs", 8, "tabs waiting on each verification")
		rounds       = flag.Int("rounds", 50, "verifications to run")
		claim        = flag.Bool("claim", false, "let only one waiting tab consume each verification")
		storageOnly  = flag.Bool("storage-only", false, "disable the direct channel")
		watch        = flag.Duration("watch", 50*time.Millisecond, "shared event stream watch interval")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		printMetrics = flag.Bool("metrics", false, "print summed Prometheus metrics at the end")
		verbose      = flag.Bool("v", false, "log tab activity to stderr")
	)
	flag.Parse()

	if *tabs <= 0 || *rounds <= 0 {
		fmt.Fprintln(os.Stderr, "tabs and rounds must be > 0")
		os.Exit(2)
	}

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	backend := authtest.NewServer()
	defer backend.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	cfg := tabauth.DefaultConfig()
	cfg.Origin = fmt.Sprintf("loadtest-%d", time.Now().UnixNano())
	cfg.API.BaseURL = backend.URL()
	cfg.Bus.WatchInterval = *watch
	cfg.Bus.DisableChannel = *storageOnly
	cfg.Poller.Interval = time.Minute
	cfg.AutoLogin.ExclusiveClaim = *claim

	collector := newCollector()
	clients := make([]*tabauth.Client, 0, *tabs+1)
	for i := 0; i <= *tabs; i++ {
		c, err := tabauth.New().
			WithConfig(cfg).
			WithRedis(client).
			WithLogger(logger).
			WithAutoLoginHandler(collector.record).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build tab: %v\n", err)
			os.Exit(1)
		}
		if err := c.Start(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "start tab: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()
		clients = append(clients, c)
	}
	waiters, verifier := clients[:*tabs], clients[*tabs]

	fmt.Printf("running %d rounds with %d waiting tabs (claim=%v storage-only=%v)\n", *rounds, *tabs, *claim, *storageOnly)

	start := time.Now()
	var timeouts int
	for r := 0; r < *rounds; r++ {
		if err := runRound(r, backend, waiters, verifier, collector); err != nil {
			timeouts++
			fmt.Fprintf(os.Stderr, "round %d: %v\n", r, err)
		}
		for _, w := range waiters {
			_ = w.Logout(context.Background())
		}
	}
	total := time.Since(start)

	fmt.Println("---- results ----")
	collector.print(total, *rounds, timeouts)

	if *printMetrics {
		fmt.Println("---- metrics ----")
		fmt.Print(prometheus.NewExporter(clients...).Render())
	}
}

func runRound(r int, backend *authtest.Server, waiters []*tabauth.Client, verifier *tabauth.Client, col *collector) error {
	ctx := context.Background()
	email := fmt.Sprintf("user-%d@example.com", r)
	const password = "load-test-password"
	backend.AddUser(email, password, false)

	if _, err := waiters[0].Login(ctx, email, password); !errors.Is(err, tabauth.ErrVerificationRequired) {
		return fmt.Errorf("expected verification required, got %v", err)
	}
	for _, w := range waiters[1:] {
		if err := w.WaitForVerification(ctx, email, password); err != nil {
			return fmt.Errorf("wait: %w", err)
		}
	}

	want := col.expect(len(waiters))
	if _, err := verifier.ConfirmVerification(ctx, backend.VerificationToken(email)); err != nil {
		return fmt.Errorf("confirm: %w", err)
	}

	select {
	case <-want:
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("timed out waiting for outcomes")
	}
}

type collector struct {
	mu        sync.Mutex
	results   map[tabauth.AutoLoginResult]int
	latencies []time.Duration
	pending   int
	done      chan struct{}
}

func newCollector() *collector {
	return &collector{results: make(map[tabauth.AutoLoginResult]int)}
}

// expect returns a channel closed once n more outcomes were recorded.
func (c *collector) expect(n int) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = n
	c.done = make(chan struct{})
	return c.done
}

func (c *collector) record(out tabauth.AutoLoginOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[out.Result]++
	if out.Result == tabauth.AutoLoginSucceeded {
		c.latencies = append(c.latencies, out.Latency)
	}
	if c.pending > 0 {
		c.pending--
		if c.pending == 0 {
			close(c.done)
		}
	}
}

func (c *collector) print(total time.Duration, rounds, timeouts int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Printf("rounds=%d timeouts=%d total=%s\n", rounds, timeouts, total.Round(time.Millisecond))
	for _, r := range []tabauth.AutoLoginResult{
		tabauth.AutoLoginSucceeded,
		tabauth.AutoLoginFailed,
		tabauth.AutoLoginAborted,
		tabauth.AutoLoginClaimedElsewhere,
	} {
		fmt.Printf("%-18s %d\n", r.String()+":", c.results[r])
	}

	samples := append([]time.Duration(nil), c.latencies...)
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	fmt.Printf("latency p50=%s p95=%s p99=%s\n",
		percentile(samples, 50).Round(time.Microsecond),
		percentile(samples, 95).Round(time.Microsecond),
		percentile(samples, 99).Round(time.Microsecond),
	)
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}
