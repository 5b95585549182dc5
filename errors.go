package tabauth

import (
	"errors"

	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/MrEthical07/tabauth/internal/autologin"
	"github.com/MrEthical07/tabauth/internal/bus"
	"github.com/MrEthical07/tabauth/internal/limiters"
	"github.com/MrEthical07/tabauth/internal/session"
	"github.com/MrEthical07/tabauth/internal/stores"
)

var (
	// ErrInvalidCredentials reports a rejected email/password pair.
	ErrInvalidCredentials = api.ErrInvalidCredentials
	// ErrVerificationRequired reports an account whose email is not verified
	// yet. It is distinct from ErrInvalidCredentials so callers can branch
	// into the verification flow.
	ErrVerificationRequired = api.ErrVerificationRequired
	// ErrCooldownActive matches every *CooldownError.
	ErrCooldownActive  = api.ErrCooldownActive
	ErrAlreadyVerified = api.ErrAlreadyVerified
	// ErrUnauthorized reports a missing or expired session.
	ErrUnauthorized = api.ErrUnauthorized
	ErrEmailTaken   = api.ErrEmailTaken
	// ErrUnavailable reports a network failure or a 5xx answer.
	ErrUnavailable        = api.ErrUnavailable
	ErrUnexpectedResponse = api.ErrUnexpectedResponse

	// ErrAutoLoginFailed wraps the sign-in error after a verification was
	// observed but the parked credential no longer worked.
	ErrAutoLoginFailed = autologin.ErrAutoLoginFailed
	// ErrAutoLoginSuperseded is carried by an aborted outcome whose sign-in
	// finished after the wait was cancelled; that session was revoked.
	ErrAutoLoginSuperseded = autologin.ErrSuperseded

	ErrNotAuthenticated = session.ErrNotAuthenticated

	// ErrStoreUnavailable reports that the shared Redis store could not be
	// reached.
	ErrStoreUnavailable = stores.ErrStoreUnavailable
	ErrBusUnavailable   = bus.ErrBusUnavailable
	// ErrCooldownUnavailable reports that the shared resend countdown could
	// not be read or started.
	ErrCooldownUnavailable = limiters.ErrResendLimiterUnavailable

	ErrInvalidInput  = errors.New("invalid input")
	ErrClientClosed  = errors.New("tab client closed")
	ErrNotStarted    = errors.New("tab client not started")
	ErrRedisRequired = errors.New("redis client required")
)

// CooldownError carries the time left before a resend is allowed.
type CooldownError = api.CooldownError
