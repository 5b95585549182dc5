package tabauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config defines the settings of one tab.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
// Every tab of one origin must agree on Origin, Vault.SealKey and Bus settings.
type Config struct {
	// Origin namespaces every shared key and channel.
	Origin    string
	API       APIConfig
	Vault     VaultConfig
	Bus       BusConfig
	Poller    PollerConfig
	Session   SessionConfig
	AutoLogin AutoLoginConfig
	Resend    ResendConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig points the tab at the REST backend.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

/*
====================================
VAULT CONFIG
====================================
*/

// VaultConfig controls the shared pending-credential slot.
//
// Without SealKey the credential is stored as cleartext JSON, readable by
// anything with access to the Redis instance, for up to TTL.
type VaultConfig struct {
	TTL     time.Duration
	SealKey []byte
}

/*
====================================
BUS CONFIG
====================================
*/

// BusConfig controls cross-tab event delivery.
type BusConfig struct {
	// EventTTL is how long the shared event stream outlives its last event.
	EventTTL time.Duration
	// WatchInterval is how often a tab reads the stream for new events.
	WatchInterval time.Duration
	// DisableChannel runs the bus storage-only.
	DisableChannel bool
}

/*
====================================
POLLER CONFIG
====================================
*/

type PollerConfig struct {
	Interval     time.Duration
	QueryTimeout time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls proactive token renewal.
type SessionConfig struct {
	// RenewalMargin is how long before access-token expiry the tab refreshes.
	RenewalMargin time.Duration
	// DefaultTokenLifetime applies when neither the response nor the token
	// states an expiry.
	DefaultTokenLifetime time.Duration
	RefreshTimeout       time.Duration
}

/*
====================================
AUTO-LOGIN CONFIG
====================================
*/

// AutoLoginConfig controls sign-in after verification.
type AutoLoginConfig struct {
	LoginTimeout time.Duration
	DedupSize    int
	// ExclusiveClaim lets only one waiting tab consume a verification. When
	// off, every tab waiting on the email signs in.
	ExclusiveClaim bool
	ClaimTTL       time.Duration
}

/*
====================================
RESEND CONFIG
====================================
*/

type ResendConfig struct {
	Cooldown time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the documented defaults: 5s poll interval, 5s event
// TTL, refresh one minute before a 15-minute token expires, 60s resend
// cooldown.
func DefaultConfig() Config {
	return Config{
		Origin: "tabauth",
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Vault: VaultConfig{
			TTL: 30 * time.Minute,
		},
		Bus: BusConfig{
			EventTTL:      5 * time.Second,
			WatchInterval: 250 * time.Millisecond,
		},
		Poller: PollerConfig{
			Interval:     5 * time.Second,
			QueryTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			RenewalMargin:        time.Minute,
			DefaultTokenLifetime: 15 * time.Minute,
			RefreshTimeout:       10 * time.Second,
		},
		AutoLogin: AutoLoginConfig{
			LoginTimeout: 10 * time.Second,
			DedupSize:    128,
			ClaimTTL:     30 * time.Second,
		},
		Resend: ResendConfig{
			Cooldown: 60 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if len(cfg.Vault.SealKey) > 0 {
		out.Vault.SealKey = append([]byte(nil), cfg.Vault.SealKey...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate returns the first setting that cannot work. It does not contact Redis or the backend.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Origin) == "" {
		return errors.New("Origin must be set")
	}
	if strings.ContainsAny(c.Origin, " \t\r\n") {
		return errors.New("Origin must not contain whitespace")
	}

	// API
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("API BaseURL must be an absolute http(s) URL")
	}
	if c.API.Timeout <= 0 {
		return errors.New("API Timeout must be > 0")
	}

	// Vault
	if c.Vault.TTL < 0 {
		return errors.New("Vault TTL must be >= 0")
	}
	if len(c.Vault.SealKey) != 0 && len(c.Vault.SealKey) != 32 {
		return errors.New("Vault SealKey must be 32 bytes")
	}

	// Bus
	if c.Bus.EventTTL <= 0 {
		return errors.New("Bus EventTTL must be > 0")
	}
	if c.Bus.WatchInterval <= 0 {
		return errors.New("Bus WatchInterval must be > 0")
	}
	if c.Bus.WatchInterval >= c.Bus.EventTTL {
		return errors.New("Bus WatchInterval must be shorter than EventTTL")
	}

	// Poller
	if c.Poller.Interval <= 0 {
		return errors.New("Poller Interval must be > 0")
	}
	if c.Poller.QueryTimeout <= 0 {
		return errors.New("Poller QueryTimeout must be > 0")
	}

	// Session
	if c.Session.RenewalMargin < 0 {
		return errors.New("Session RenewalMargin must be >= 0")
	}
	if c.Session.DefaultTokenLifetime <= 0 {
		return errors.New("Session DefaultTokenLifetime must be > 0")
	}
	if c.Session.RefreshTimeout <= 0 {
		return errors.New("Session RefreshTimeout must be > 0")
	}

	// AutoLogin
	if c.AutoLogin.LoginTimeout <= 0 {
		return errors.New("AutoLogin LoginTimeout must be > 0")
	}
	if c.AutoLogin.DedupSize <= 0 {
		return errors.New("AutoLogin DedupSize must be > 0")
	}
	if c.AutoLogin.ExclusiveClaim && c.AutoLogin.ClaimTTL <= 0 {
		return errors.New("AutoLogin ClaimTTL must be > 0 when ExclusiveClaim is true")
	}

	// Resend
	if c.Resend.Cooldown < 0 {
		return errors.New("Resend Cooldown must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

/*
====================================
ENVIRONMENT
====================================
*/

// LoadConfig starts from DefaultConfig, loads the given .env files (or ./.env
// when none are named and it exists), then applies TABAUTH_* variables.
// Variables already set in the environment win over .env entries.
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if len(envFiles) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}

	cfg := DefaultConfig()
	l := envLoader{}

	cfg.Origin = l.str("TABAUTH_ORIGIN", cfg.Origin)
	cfg.API.BaseURL = l.str("TABAUTH_API_BASE_URL", cfg.API.BaseURL)
	cfg.API.Timeout = l.duration("TABAUTH_API_TIMEOUT", cfg.API.Timeout)

	cfg.Vault.TTL = l.duration("TABAUTH_VAULT_TTL", cfg.Vault.TTL)
	cfg.Vault.SealKey = l.base64("TABAUTH_VAULT_SEAL_KEY", cfg.Vault.SealKey)

	cfg.Bus.EventTTL = l.duration("TABAUTH_BUS_EVENT_TTL", cfg.Bus.EventTTL)
	cfg.Bus.WatchInterval = l.duration("TABAUTH_BUS_WATCH_INTERVAL", cfg.Bus.WatchInterval)
	cfg.Bus.DisableChannel = l.boolean("TABAUTH_BUS_DISABLE_CHANNEL", cfg.Bus.DisableChannel)

	cfg.Poller.Interval = l.duration("TABAUTH_POLL_INTERVAL", cfg.Poller.Interval)
	cfg.Poller.QueryTimeout = l.duration("TABAUTH_POLL_QUERY_TIMEOUT", cfg.Poller.QueryTimeout)

	cfg.Session.RenewalMargin = l.duration("TABAUTH_RENEWAL_MARGIN", cfg.Session.RenewalMargin)
	cfg.Session.DefaultTokenLifetime = l.duration("TABAUTH_DEFAULT_TOKEN_LIFETIME", cfg.Session.DefaultTokenLifetime)
	cfg.Session.RefreshTimeout = l.duration("TABAUTH_REFRESH_TIMEOUT", cfg.Session.RefreshTimeout)

	cfg.AutoLogin.LoginTimeout = l.duration("TABAUTH_AUTOLOGIN_TIMEOUT", cfg.AutoLogin.LoginTimeout)
	cfg.AutoLogin.ExclusiveClaim = l.boolean("TABAUTH_AUTOLOGIN_EXCLUSIVE_CLAIM", cfg.AutoLogin.ExclusiveClaim)
	cfg.AutoLogin.ClaimTTL = l.duration("TABAUTH_AUTOLOGIN_CLAIM_TTL", cfg.AutoLogin.ClaimTTL)

	cfg.Resend.Cooldown = l.duration("TABAUTH_RESEND_COOLDOWN", cfg.Resend.Cooldown)

	cfg.Audit.Enabled = l.boolean("TABAUTH_AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Metrics.Enabled = l.boolean("TABAUTH_METRICS_ENABLED", cfg.Metrics.Enabled)

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envLoader reads typed variables and collects parse errors instead of
// silently falling back, so a typo in a duration is reported.
type envLoader struct {
	errs []error
}

func (l *envLoader) str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (l *envLoader) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (l *envLoader) boolean(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func (l *envLoader) base64(key string, fallback []byte) []byte {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}
