package tabauth

import (
	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/MrEthical07/tabauth/internal/autologin"
	"github.com/MrEthical07/tabauth/internal/bus"
	"github.com/MrEthical07/tabauth/internal/session"
)

// Principal is the signed-in user as returned by the backend.
type Principal = api.Principal

// RegisterRequest is the body of an account registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

// Receipt acknowledges a registration.
type Receipt = api.Receipt

// VerificationEvent announces that an email became verified.
type VerificationEvent = bus.Event

// SessionState is the per-tab session state.
type SessionState = session.State

const (
	SessionAnonymous      = session.Anonymous
	SessionAuthenticating = session.Authenticating
	SessionAuthenticated  = session.Authenticated
	SessionRefreshing     = session.Refreshing
)

// WaitingState is the per-tab auto-login state.
type WaitingState = autologin.State

const (
	WaitingIdle            = autologin.Idle
	WaitingActive          = autologin.Waiting
	WaitingConsumedSuccess = autologin.ConsumedSuccess
	WaitingConsumedFailure = autologin.ConsumedFailure
)

// AutoLoginOutcome reports what a tab did with a verification event.
type AutoLoginOutcome = autologin.Outcome

// AutoLoginResult classifies an AutoLoginOutcome.
type AutoLoginResult = autologin.Result

const (
	AutoLoginSucceeded        = autologin.ResultSuccess
	AutoLoginFailed           = autologin.ResultFailure
	AutoLoginAborted          = autologin.ResultAborted
	AutoLoginClaimedElsewhere = autologin.ResultClaimedElsewhere
)
