package api

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrVerificationRequired = errors.New("email verification required")
	ErrCooldownActive       = errors.New("resend cooldown active")
	ErrAlreadyVerified      = errors.New("email already verified")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrEmailTaken           = errors.New("email already registered")
	ErrUnavailable          = errors.New("backend unavailable")
	ErrUnexpectedResponse   = errors.New("unexpected backend response")
)

// Machine-readable error kinds sent by the backend in the error envelope.
const (
	CodeInvalidCredentials   = "invalid_credentials"
	CodeVerificationRequired = "verification_required"
	CodeCooldownActive       = "cooldown_active"
	CodeAlreadyVerified      = "already_verified"
	CodeUnauthorized         = "unauthorized"
	CodeNoSession            = "no_session"
	CodeEmailTaken           = "email_taken"
)

// CooldownError reports a resend attempted before the backend's cooldown
// elapsed. errors.Is(err, ErrCooldownActive) holds for it.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	if e.Remaining <= 0 {
		return ErrCooldownActive.Error()
	}
	return fmt.Sprintf("%s: retry in %s", ErrCooldownActive, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// IsTransient reports whether err is a network or server-side failure that a
// polling caller may retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
