package poller

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tabauth/internal/bus"
	"github.com/MrEthical07/tabauth/internal/metrics"
	"golang.org/x/time/rate"
)

// StatusChecker answers whether an email address has been verified.
type StatusChecker interface {
	VerificationStatus(ctx context.Context, email string) (bool, error)
}

type Config struct {
	Interval     time.Duration
	QueryTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Poller starts verification status loops. One Poller serves every loop a
// tab runs; each Start returns an independent Handle.
type Poller struct {
	checker StatusChecker
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(checker StatusChecker, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Poller{
		checker: checker,
		cfg:     cfg,
		log:     logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Handle controls one running loop.
type Handle struct {
	email   string
	cancel  context.CancelFunc
	done    chan struct{}
	queries atomic.Int64
	// stopped flips once, either by Cancel or by the single delivery. It
	// decides whether delivery starts, not whether it has finished.
	stopped atomic.Bool
}

// Start queries the status of email at once and then every Interval until it
// is verified or the handle is cancelled. onVerified is called at most once,
// from the loop goroutine. It is not started after Cancel has returned, but a
// call that began just before Cancel may still be running, so callers gate
// the event on their own state.
func (p *Poller) Start(ctx context.Context, email string, onVerified func(bus.Event)) *Handle {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		email:  email,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(runCtx, h, onVerified)
	return h
}

func (p *Poller) run(ctx context.Context, h *Handle, onVerified func(bus.Event)) {
	defer close(h.done)
	defer h.cancel()

	limiter := rate.NewLimiter(rate.Every(p.cfg.Interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		verified, err := p.query(ctx, h)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.metrics.Inc(metrics.PollQueryFailure)
			p.log.Warn("verification status query failed", "email", h.email, "error", err)
			continue
		}
		if !verified {
			continue
		}

		p.metrics.Inc(metrics.PollVerified)
		p.log.Info("verification observed by poller", "email", h.email, "queries", h.queries.Load())
		h.emit(bus.NewEvent(h.email, p.now()), onVerified)
		return
	}
}

func (p *Poller) query(ctx context.Context, h *Handle) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	h.queries.Add(1)
	p.metrics.Inc(metrics.PollQuery)
	return p.checker.VerificationStatus(qctx, h.email)
}

func (h *Handle) emit(ev bus.Event, onVerified func(bus.Event)) {
	if onVerified == nil || !h.stopped.CompareAndSwap(false, true) {
		return
	}
	onVerified(ev)
}

// Cancel stops the loop. It is safe on a nil handle, after completion, and
// when called more than once.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.stopped.Store(true)
	h.cancel()
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Email() string {
	return h.email
}

// Queries reports how many status queries were issued.
func (h *Handle) Queries() int64 {
	if h == nil {
		return 0
	}
	return h.queries.Load()
}
