package autologin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/MrEthical07/tabauth/internal/bus"
	"github.com/MrEthical07/tabauth/internal/metrics"
	"github.com/MrEthical07/tabauth/internal/poller"
	"github.com/MrEthical07/tabauth/internal/stores"
)

var (
	ErrAutoLoginFailed = errors.New("verified, but sign-in failed")
	ErrClosed          = errors.New("auto-login orchestrator closed")
	// ErrSuperseded marks a sign-in that completed after its wait had been
	// cancelled or replaced; the session it created was revoked.
	ErrSuperseded = errors.New("auto-login superseded")
)

const defaultDedupSize = 128

// State is the per-tab auto-login state.
type State int32

const (
	Idle State = iota
	Waiting
	ConsumedSuccess
	ConsumedFailure
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case ConsumedSuccess:
		return "consumed_success"
	case ConsumedFailure:
		return "consumed_failure"
	default:
		return "unknown"
	}
}

// Result classifies how an event this tab acted on ended.
type Result int

const (
	ResultSuccess Result = iota
	ResultFailure
	// ResultAborted means the vault was empty or held another identity, or
	// the wait was cancelled while the sign-in was in flight.
	ResultAborted
	// ResultClaimedElsewhere means another tab won the exclusive claim.
	ResultClaimedElsewhere
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultAborted:
		return "aborted"
	case ResultClaimedElsewhere:
		return "claimed_elsewhere"
	default:
		return "unknown"
	}
}

// Outcome reports a terminal decision on one verification event.
type Outcome struct {
	Email     string
	Result    Result
	Principal *api.Principal
	Err       error
	Event     bus.Event
	// Latency runs from the event timestamp to the decision.
	Latency time.Duration
}

type Vault interface {
	Store(ctx context.Context, email, password string) error
	Read(ctx context.Context) (stores.PendingCredential, bool, error)
	Clear(ctx context.Context) error
}

type Subscriber interface {
	Subscribe(fn bus.Handler) func()
}

type Poller interface {
	Start(ctx context.Context, email string, onVerified func(bus.Event)) *poller.Handle
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (*api.Principal, error)
	// Revoke drops a session without touching the vault.
	Revoke(ctx context.Context) error
}

// Claimer grants one tab the right to consume a verification.
type Claimer interface {
	Acquire(ctx context.Context, email, owner string) (bool, error)
	Release(ctx context.Context, email, owner string) error
}

type Config struct {
	TabID        string
	LoginTimeout time.Duration
	DedupSize    int
	// Claimer, when set, makes consumption exclusive across tabs.
	Claimer   Claimer
	OnOutcome func(Outcome)
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Orchestrator turns a verification event into a sign-in for the tab that
// is waiting on that email.
type Orchestrator struct {
	vault   Vault
	sub     Subscriber
	poller  Poller
	auth    Authenticator
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.Mutex
	state       State
	waiting     bool
	email       string
	handle      *poller.Handle
	epoch       uint64
	seen        map[string]struct{}
	seenOrder   []string
	unsubscribe func()
	closed      bool
}

func New(vault Vault, sub Subscriber, p Poller, auth Authenticator, cfg Config) *Orchestrator {
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 10 * time.Second
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = defaultDedupSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		vault:   vault,
		sub:     sub,
		poller:  p,
		auth:    auth,
		cfg:     cfg,
		log:     logger,
		metrics: cfg.Metrics,
		now:     time.Now,
		seen:    make(map[string]struct{}, cfg.DedupSize),
	}
}

// Attach subscribes to the bus. Calling it again does nothing.
func (o *Orchestrator) Attach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.unsubscribe != nil {
		return
	}
	o.unsubscribe = o.sub.Subscribe(o.Handle)
}

// Begin parks the credential and waits for email to be verified.
func (o *Orchestrator) Begin(ctx context.Context, email, password string) error {
	if o.isClosed() {
		return ErrClosed
	}
	if err := o.vault.Store(ctx, email, password); err != nil {
		return err
	}
	o.metrics.Inc(metrics.VaultStored)
	o.enterWaiting(ctx, email)
	o.log.Info("waiting for email verification", "email", email)
	return nil
}

// Resume re-enters waiting for a credential parked before a reload. It
// reports false when the vault is empty.
func (o *Orchestrator) Resume(ctx context.Context) (bool, error) {
	if o.isClosed() {
		return false, ErrClosed
	}
	cred, ok, err := o.vault.Read(ctx)
	if err != nil || !ok {
		return false, err
	}
	o.enterWaiting(ctx, cred.Email)
	o.log.Info("resumed waiting for email verification", "email", cred.Email)
	return true, nil
}

func (o *Orchestrator) enterWaiting(ctx context.Context, email string) {
	o.mu.Lock()
	o.epoch++
	old := o.handle
	o.waiting = true
	o.state = Waiting
	o.email = email
	o.handle = o.poller.Start(ctx, email, o.Handle)
	o.mu.Unlock()

	old.Cancel()
}

// Handle consumes one verification event. It is the single entry point for
// both the bus and the poller. Events for an email other than the one this
// tab waits on are ignored and the tab keeps waiting.
func (o *Orchestrator) Handle(ev bus.Event) {
	o.mu.Lock()
	if o.closed || !o.waiting {
		o.mu.Unlock()
		o.metrics.Inc(metrics.AutoLoginIgnored)
		return
	}
	if !sameEmail(ev.Email, o.email) {
		waitingOn := o.email
		o.mu.Unlock()
		o.metrics.Inc(metrics.AutoLoginIgnored)
		o.log.Debug("verification event for another email ignored", "email", ev.Email, "waiting_on", waitingOn)
		return
	}
	key := ev.Key()
	if _, dup := o.seen[key]; dup {
		o.mu.Unlock()
		o.metrics.Inc(metrics.AutoLoginDuplicate)
		o.log.Debug("duplicate verification event ignored", "email", ev.Email, "timestamp", ev.Timestamp)
		return
	}
	o.rememberLocked(key)
	o.waiting = false
	o.email = ""
	epoch := o.epoch
	handle := o.handle
	o.handle = nil
	o.mu.Unlock()

	handle.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.LoginTimeout)
	defer cancel()

	out := o.consume(ctx, ev, epoch)
	out.Event = ev
	out.Latency = o.now().Sub(ev.Time())

	o.mu.Lock()
	if o.epoch == epoch {
		switch out.Result {
		case ResultSuccess:
			o.state = ConsumedSuccess
		case ResultFailure:
			o.state = ConsumedFailure
		default:
			o.state = Idle
		}
	}
	o.mu.Unlock()

	o.record(out)
	if o.cfg.OnOutcome != nil {
		o.cfg.OnOutcome(out)
	}
}

func (o *Orchestrator) consume(ctx context.Context, ev bus.Event, epoch uint64) Outcome {
	cred, out, ok := o.matchVault(ctx, ev)
	if !ok {
		return out
	}

	if o.cfg.Claimer != nil {
		won, err := o.cfg.Claimer.Acquire(ctx, cred.Email, o.cfg.TabID)
		switch {
		case err != nil:
			o.log.Warn("consumption claim unavailable, continuing", "email", cred.Email, "error", err)
		case !won:
			return Outcome{Email: cred.Email, Result: ResultClaimedElsewhere}
		default:
			defer func() {
				if err := o.cfg.Claimer.Release(context.WithoutCancel(ctx), cred.Email, o.cfg.TabID); err != nil {
					o.log.Debug("consumption claim release failed", "error", err)
				}
			}()
			// The winner clears the vault before releasing, so a tab that
			// wins after it finds the vault empty here.
			if cred, out, ok = o.matchVault(ctx, ev); !ok {
				return out
			}
		}
	}

	p, loginErr := o.auth.Login(ctx, cred.Email, cred.Password)

	// Cancel, Begin or Close ran while the backend answered. That flow owns
	// the vault now and this tab must not stay signed in.
	if o.superseded(epoch) {
		if loginErr == nil {
			if err := o.auth.Revoke(context.WithoutCancel(ctx)); err != nil {
				o.log.Warn("revoking superseded auto-login failed", "error", err)
			}
		}
		return Outcome{Email: cred.Email, Result: ResultAborted, Err: ErrSuperseded}
	}

	if err := o.vault.Clear(context.WithoutCancel(ctx)); err != nil {
		o.log.Warn("vault clear after auto-login failed", "error", err)
	} else {
		o.metrics.Inc(metrics.VaultCleared)
	}

	if loginErr != nil {
		return Outcome{Email: cred.Email, Result: ResultFailure, Err: fmt.Errorf("%w: %w", ErrAutoLoginFailed, loginErr)}
	}
	return Outcome{Email: cred.Email, Result: ResultSuccess, Principal: p}
}

// matchVault reads the parked credential and checks it belongs to ev.
func (o *Orchestrator) matchVault(ctx context.Context, ev bus.Event) (stores.PendingCredential, Outcome, bool) {
	cred, ok, err := o.vault.Read(ctx)
	if err != nil {
		return cred, Outcome{Email: ev.Email, Result: ResultFailure, Err: fmt.Errorf("%w: %w", ErrAutoLoginFailed, err)}, false
	}
	if !ok || !sameEmail(cred.Email, ev.Email) {
		return cred, Outcome{Email: ev.Email, Result: ResultAborted}, false
	}
	return cred, Outcome{}, true
}

func (o *Orchestrator) superseded(epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch != epoch
}

func (o *Orchestrator) record(out Outcome) {
	switch out.Result {
	case ResultSuccess:
		o.metrics.Inc(metrics.AutoLoginSuccess)
		o.metrics.Observe(metrics.AutoLoginLatency, out.Latency)
		o.log.Info("signed in after verification", "email", out.Email, "latency", out.Latency)
	case ResultFailure:
		o.metrics.Inc(metrics.AutoLoginFailure)
		o.log.Warn("sign-in after verification failed", "email", out.Email, "error", out.Err)
	case ResultAborted:
		o.metrics.Inc(metrics.AutoLoginAborted)
		if errors.Is(out.Err, ErrSuperseded) {
			o.log.Info("auto-login superseded, session revoked", "email", out.Email)
			break
		}
		o.log.Info("auto-login aborted, no matching pending credential", "email", out.Email)
	case ResultClaimedElsewhere:
		o.metrics.Inc(metrics.AutoLoginClaimLost)
		o.log.Info("verification consumed by another tab", "email", out.Email)
	}
}

// Cancel stops waiting. The parked credential is kept.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.epoch++
	handle := o.handle
	o.handle = nil
	o.waiting = false
	o.state = Idle
	o.email = ""
	o.mu.Unlock()

	handle.Cancel()
}

// Abandon stops waiting and discards the parked credential.
func (o *Orchestrator) Abandon(ctx context.Context) error {
	o.Cancel()
	if err := o.vault.Clear(ctx); err != nil {
		return err
	}
	o.metrics.Inc(metrics.VaultCleared)
	return nil
}

// Close stops waiting and detaches from the bus. Later events are ignored.
func (o *Orchestrator) Close() {
	o.Cancel()

	o.mu.Lock()
	o.closed = true
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Waiting reports the WaitingFlag and the email being waited on.
func (o *Orchestrator) Waiting() (bool, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waiting, o.email
}

// PollerQueries reports queries issued by the current poll loop.
func (o *Orchestrator) PollerQueries() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handle.Queries()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) rememberLocked(key string) {
	if len(o.seenOrder) >= o.cfg.DedupSize {
		oldest := o.seenOrder[0]
		o.seenOrder = o.seenOrder[1:]
		delete(o.seen, oldest)
	}
	o.seen[key] = struct{}{}
	o.seenOrder = append(o.seenOrder, key)
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
