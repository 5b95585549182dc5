package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/MrEthical07/tabauth/internal/metrics"
)

var ErrNotAuthenticated = errors.New("no authenticated session")

// State is the per-tab session state.
type State int32

const (
	Anonymous State = iota
	Authenticating
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// API is the slice of the backend client the manager drives.
type API interface {
	Login(ctx context.Context, email, password string) (*api.Session, error)
	Logout(ctx context.Context) error
	Refresh(ctx context.Context) (*api.Session, error)
	Me(ctx context.Context) (*api.Principal, error)
}

// VaultClearer empties the shared pending-credential slot.
type VaultClearer interface {
	Clear(ctx context.Context) error
}

type Config struct {
	RenewalMargin        time.Duration
	DefaultTokenLifetime time.Duration
	// RefreshTimeout bounds refreshes started by the timer.
	RefreshTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	// OnTimerRefresh, if set, observes the outcome of timer-driven refreshes.
	OnTimerRefresh func(*api.Principal, error)
}

// Manager is the tab's single source of truth for who is signed in and the
// only owner of proactive token renewal.
type Manager struct {
	api     API
	vault   VaultClearer
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// op serializes state transitions that call the backend.
	op sync.Mutex

	mu        sync.Mutex
	state     State
	principal *api.Principal
	timer     *time.Timer
	gen       uint64
	refreshAt time.Time
	stopped   bool
}

func NewManager(client API, vault VaultClearer, cfg Config) *Manager {
	if cfg.DefaultTokenLifetime <= 0 {
		cfg.DefaultTokenLifetime = 15 * time.Minute
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		api:     client,
		vault:   vault,
		cfg:     cfg,
		log:     logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}

// Login authenticates and schedules the refresh timer. On failure the
// previous session, if any, is left as it was.
func (m *Manager) Login(ctx context.Context, email, password string) (*api.Principal, error) {
	m.op.Lock()
	defer m.op.Unlock()

	prev := m.setState(Authenticating)

	sess, err := m.api.Login(ctx, email, password)
	if err == nil && sess.User == nil {
		sess.User, err = m.api.Me(ctx)
	}
	if err != nil {
		m.setState(prev)
		if errors.Is(err, api.ErrVerificationRequired) {
			m.metrics.Inc(metrics.LoginVerificationRequired)
			m.log.Info("login requires email verification", "email", email)
		} else {
			m.metrics.Inc(metrics.LoginFailure)
			m.log.Warn("login failed", "email", email, "error", err)
		}
		return nil, err
	}

	p := m.establish(sess)
	m.metrics.Inc(metrics.LoginSuccess)
	m.log.Info("login succeeded", "email", email, "user_id", p.ID)
	return p, nil
}

// Logout clears local state first, then the vault, then tells the backend.
// Local state is gone even when the returned error is non-nil.
func (m *Manager) Logout(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	m.clear()
	m.metrics.Inc(metrics.Logout)

	var errs []error
	if m.vault != nil {
		if err := m.vault.Clear(ctx); err != nil {
			m.log.Warn("vault clear on logout failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := m.api.Logout(ctx); err != nil {
		m.log.Warn("backend logout failed", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Revoke drops the session locally and at the backend but leaves the vault
// alone. It undoes a sign-in whose flow was cancelled while it was in flight.
func (m *Manager) Revoke(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	m.clear()
	m.log.Info("session revoked")
	if err := m.api.Logout(ctx); err != nil {
		m.log.Warn("backend logout failed", "error", err)
		return err
	}
	return nil
}

// Refresh renews the session from the refresh cookie. Failure drops the
// session; it is not retried.
func (m *Manager) Refresh(ctx context.Context) (*api.Principal, error) {
	m.op.Lock()
	defer m.op.Unlock()
	return m.refresh(ctx)
}

// Restore resumes a session left by an earlier process. Having no session
// is not an error: it returns (nil, nil).
func (m *Manager) Restore(ctx context.Context) (*api.Principal, error) {
	m.op.Lock()
	defer m.op.Unlock()

	m.setState(Refreshing)
	sess, err := m.api.Refresh(ctx)
	if err == nil && sess.User == nil {
		sess.User, err = m.api.Me(ctx)
	}
	if err != nil {
		m.clear()
		if errors.Is(err, api.ErrUnauthorized) {
			m.metrics.Inc(metrics.RestoreNoSession)
			m.log.Debug("no session to restore")
			return nil, nil
		}
		m.log.Warn("session restore failed", "error", err)
		return nil, err
	}

	p := m.establish(sess)
	m.metrics.Inc(metrics.RestoreSuccess)
	m.log.Info("session restored", "user_id", p.ID)
	return p, nil
}

// Reload refetches the principal of the current session.
func (m *Manager) Reload(ctx context.Context) (*api.Principal, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if m.State() != Authenticated {
		return nil, ErrNotAuthenticated
	}
	p, err := m.api.Me(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated {
		return nil, ErrNotAuthenticated
	}
	m.principal = p.Clone()
	return p.Clone(), nil
}

// Update replaces the principal after a profile change made elsewhere.
func (m *Manager) Update(p *api.Principal) error {
	if p == nil {
		return errors.New("nil principal")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Authenticated {
		return ErrNotAuthenticated
	}
	m.principal = p.Clone()
	return nil
}

func (m *Manager) Principal() *api.Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principal.Clone()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TimerActive reports whether a refresh is scheduled.
func (m *Manager) TimerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// NextRefresh returns when the scheduled refresh fires, or zero.
func (m *Manager) NextRefresh() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil {
		return time.Time{}
	}
	return m.refreshAt
}

// Stop cancels the refresh timer without signing out and prevents new ones.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.cancelTimerLocked()
}

func (m *Manager) refresh(ctx context.Context) (*api.Principal, error) {
	m.setState(Refreshing)

	sess, err := m.api.Refresh(ctx)
	if err != nil {
		m.clear()
		m.metrics.Inc(metrics.RefreshFailure)
		m.log.Warn("token refresh failed", "error", err)
		return nil, err
	}
	if sess.User == nil {
		m.mu.Lock()
		sess.User = m.principal.Clone()
		m.mu.Unlock()
	}
	if sess.User == nil {
		if sess.User, err = m.api.Me(ctx); err != nil {
			m.clear()
			m.metrics.Inc(metrics.RefreshFailure)
			m.log.Warn("principal fetch after refresh failed", "error", err)
			return nil, err
		}
	}

	p := m.establish(sess)
	m.metrics.Inc(metrics.RefreshSuccess)
	m.log.Debug("token refreshed", "user_id", p.ID)
	return p, nil
}

// establish stores the session's principal and replaces the refresh timer.
func (m *Manager) establish(sess *api.Session) *api.Principal {
	lifetime := tokenLifetime(sess, m.now(), m.cfg.DefaultTokenLifetime)
	delay := renewalDelay(lifetime, m.cfg.RenewalMargin)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.principal = sess.User.Clone()
	m.state = Authenticated
	m.cancelTimerLocked()
	if !m.stopped {
		gen := m.gen
		m.refreshAt = m.now().Add(delay)
		m.timer = time.AfterFunc(delay, func() { m.fire(gen) })
		m.metrics.Inc(metrics.RefreshScheduled)
		m.log.Debug("refresh scheduled", "in", delay, "lifetime", lifetime)
	}
	return sess.User.Clone()
}

// fire runs a timer-driven refresh unless the timer was superseded.
func (m *Manager) fire(gen uint64) {
	m.op.Lock()
	defer m.op.Unlock()

	m.mu.Lock()
	current := gen == m.gen && m.timer != nil && m.state == Authenticated && !m.stopped
	if current {
		m.timer = nil
	}
	m.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
	defer cancel()

	p, err := m.refresh(ctx)
	if m.cfg.OnTimerRefresh != nil {
		m.cfg.OnTimerRefresh(p, err)
	}
}

func (m *Manager) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	m.principal = nil
	m.state = Anonymous
}

func (m *Manager) cancelTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.refreshAt = time.Time{}
}

func (m *Manager) setState(s State) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = s
	return prev
}
