package tabauth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/MrEthical07/tabauth/internal/audit"
	"github.com/MrEthical07/tabauth/internal/autologin"
	"github.com/MrEthical07/tabauth/internal/bus"
	"github.com/MrEthical07/tabauth/internal/limiters"
	"github.com/MrEthical07/tabauth/internal/metrics"
	"github.com/MrEthical07/tabauth/internal/session"
	"github.com/MrEthical07/tabauth/internal/stores"
)

// Client is one tab of an origin. Methods are safe for concurrent use.
type Client struct {
	cfg       Config
	tabID     string
	log       *slog.Logger
	api       *api.Client
	vault     *stores.Vault
	bus       *bus.Bus
	session   *session.Manager
	orch      *autologin.Orchestrator
	cooldown  *limiters.ResendCooldown
	audit     *audit.Dispatcher
	metrics   *metrics.Metrics
	onOutcome func(AutoLoginOutcome)

	mu      sync.Mutex
	started bool
	closed  bool
}

// Start describes the start operation and its observable behavior.
//
// Start connects the tab to the origin's event bus and subscribes the auto-login orchestrator. It is
// idempotent. If the direct channel is unavailable the tab runs storage-only without reporting an error.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.started {
		return nil
	}
	if err := c.bus.Start(ctx); err != nil {
		return err
	}
	c.orch.Attach()
	c.started = true
	c.log.Info("tab started", "origin", c.cfg.Origin, "channel", c.bus.ChannelAvailable())
	return nil
}

// Close tears the tab down: waiting stops, the refresh timer is cancelled,
// the bus listeners exit and buffered audit events are flushed. It does not
// sign out and does not close the Redis client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.orch.Close()
	c.session.Stop()
	err := c.bus.Close()
	c.audit.Close()
	c.log.Info("tab closed")
	return err
}

func (c *Client) TabID() string {
	return c.tabID
}

// ChannelAvailable reports whether the direct bus channel is in use.
func (c *Client) ChannelAvailable() bool {
	return c.bus.ChannelAvailable()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot returns a copy; it is empty when metrics are disabled.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped reports events dropped because the audit buffer was full.
func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}

func (c *Client) isStarted() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClientClosed
	}
	return c.started, nil
}

func (c *Client) requireStarted() error {
	started, err := c.isStarted()
	if err != nil {
		return err
	}
	if !started {
		return ErrNotStarted
	}
	return nil
}

func (c *Client) handleOutcome(out AutoLoginOutcome) {
	ctx := context.Background()
	meta := map[string]string{"event_timestamp": formatMillis(out.Event.Timestamp)}
	switch out.Result {
	case autologin.ResultSuccess:
		c.emitAudit(ctx, AuditAutoLoginSuccess, true, userIDOf(out.Principal), out.Email, nil, meta)
	case autologin.ResultFailure:
		c.emitAudit(ctx, AuditAutoLoginFailure, false, "", out.Email, out.Err, meta)
	case autologin.ResultAborted:
		c.emitAudit(ctx, AuditAutoLoginAborted, false, "", out.Email, nil, meta)
	case autologin.ResultClaimedElsewhere:
		c.emitAudit(ctx, AuditAutoLoginClaimedElsewhere, false, "", out.Email, nil, meta)
	}

	if c.onOutcome != nil {
		c.onOutcome(out)
	}
}

func (c *Client) handleTimerRefresh(p *Principal, err error) {
	ctx := context.Background()
	if err != nil {
		c.emitAudit(ctx, AuditRefreshFailure, false, "", "", err, map[string]string{"trigger": "timer"})
		return
	}
	c.emitAudit(ctx, AuditRefreshSuccess, true, p.ID, p.Email, nil, map[string]string{"trigger": "timer"})
}

func userIDOf(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.ID
}

// joinWaitErr keeps the backend answer first so errors.Is still matches it.
func joinWaitErr(err, waitErr error) error {
	if waitErr == nil {
		return err
	}
	return errors.Join(err, waitErr)
}

func formatMillis(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
