package tabauth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/MrEthical07/tabauth/internal/audit"
	"github.com/MrEthical07/tabauth/internal/autologin"
	"github.com/MrEthical07/tabauth/internal/bus"
	"github.com/MrEthical07/tabauth/internal/limiters"
	"github.com/MrEthical07/tabauth/internal/metrics"
	"github.com/MrEthical07/tabauth/internal/poller"
	"github.com/MrEthical07/tabauth/internal/session"
	"github.com/MrEthical07/tabauth/internal/stores"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a tab Client.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// A Builder builds exactly one Client.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	httpClient *http.Client
	logger     *slog.Logger
	auditSink  AuditSink
	onOutcome  func(AutoLoginOutcome)
	tabID      string

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store every tab of the origin uses. It is
// required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithHTTPClient sets the client used for the backend. A client without a
// cookie jar is copied and given one.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAutoLoginHandler registers fn to observe every auto-login outcome.
// fn runs on the goroutine that delivered the event and must not block.
func (b *Builder) WithAutoLoginHandler(fn func(AutoLoginOutcome)) *Builder {
	b.onOutcome = fn
	return b
}

// WithTabID fixes the tab id instead of generating one.
func (b *Builder) WithTabID(id string) *Builder {
	b.tabID = id
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration and wires every component. It performs no I/O; call Client.Start
// before relying on cross-tab events.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, ErrRedisRequired
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tabID := b.tabID
	if tabID == "" {
		tabID = uuid.NewString()
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("tab", tabID)

	m := metrics.New(metrics.Config{
		Enabled:                 cfg.Metrics.Enabled,
		EnableLatencyHistograms: cfg.Metrics.EnableLatencyHistograms,
	})

	backend, err := api.New(cfg.API.BaseURL, b.httpClient, cfg.API.Timeout)
	if err != nil {
		return nil, err
	}

	vault, err := stores.NewVault(b.redis, cfg.Origin+":vault:pending", cfg.Vault.TTL, cfg.Vault.SealKey)
	if err != nil {
		return nil, err
	}

	eventBus := bus.New(b.redis, bus.Config{
		Channel:        cfg.Origin + ":bus",
		StreamKey:      cfg.Origin + ":bus:events",
		EventTTL:       cfg.Bus.EventTTL,
		WatchInterval:  cfg.Bus.WatchInterval,
		DisableChannel: cfg.Bus.DisableChannel,
		Source:         tabID,
		Logger:         logger.With("component", "bus"),
		Metrics:        m,
	})

	statusPoller := poller.New(backend, poller.Config{
		Interval:     cfg.Poller.Interval,
		QueryTimeout: cfg.Poller.QueryTimeout,
		Logger:       logger.With("component", "poller"),
		Metrics:      m,
	})

	c := &Client{
		cfg:       cfg,
		tabID:     tabID,
		log:       logger,
		api:       backend,
		vault:     vault,
		bus:       eventBus,
		cooldown:  limiters.NewResendCooldown(b.redis, cfg.Origin+":cooldown", cfg.Resend.Cooldown),
		metrics:   m,
		onOutcome: b.onOutcome,
	}

	c.session = session.NewManager(backend, vault, session.Config{
		RenewalMargin:        cfg.Session.RenewalMargin,
		DefaultTokenLifetime: cfg.Session.DefaultTokenLifetime,
		RefreshTimeout:       cfg.Session.RefreshTimeout,
		Logger:               logger.With("component", "session"),
		Metrics:              m,
		OnTimerRefresh:       c.handleTimerRefresh,
	})

	var claimer autologin.Claimer
	if cfg.AutoLogin.ExclusiveClaim {
		claimer = stores.NewClaimStore(b.redis, cfg.Origin+":claim", cfg.AutoLogin.ClaimTTL)
	}
	c.orch = autologin.New(vault, eventBus, statusPoller, c.session, autologin.Config{
		TabID:        tabID,
		LoginTimeout: cfg.AutoLogin.LoginTimeout,
		DedupSize:    cfg.AutoLogin.DedupSize,
		Claimer:      claimer,
		OnOutcome:    c.handleOutcome,
		Logger:       logger.With("component", "autologin"),
		Metrics:      m,
	})

	c.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		TabID:      tabID,
		Logger:     logger.With("component", "audit"),
	}, b.auditSink)

	b.built = true
	return c, nil
}
