package tabauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/tabauth/internal/api"
)

// Login describes the login operation and its observable behavior.
//
// Login signs the tab in and schedules its refresh timer. When the backend answers that the email is
// not verified yet, Login returns ErrVerificationRequired and, once the tab is started, parks the
// credential and waits: the tab then signs in by itself when any tab observes the verification.
// An unstarted tab does not wait; its error also matches ErrNotStarted.
// A failed login leaves an existing session untouched.
func (c *Client) Login(ctx context.Context, email, password string) (*Principal, error) {
	if err := checkInput(credentialsInput{Email: email, Password: password}); err != nil {
		return nil, err
	}
	started, err := c.isStarted()
	if err != nil {
		return nil, err
	}

	p, err := c.session.Login(ctx, email, password)
	switch {
	case err == nil:
		c.emitAudit(ctx, AuditLoginSuccess, true, p.ID, email, nil, nil)
		return p, nil
	case errors.Is(err, ErrVerificationRequired):
		c.emitAudit(ctx, AuditVerificationRequired, false, "", email, err, nil)
		if !started {
			return nil, joinWaitErr(err, ErrNotStarted)
		}
		return nil, joinWaitErr(err, c.orch.Begin(ctx, email, password))
	default:
		c.emitAudit(ctx, AuditLoginFailure, false, "", email, err, nil)
		return nil, err
	}
}

// Register creates an account. When the receipt says verification is
// required, a started tab begins waiting exactly as after Login; otherwise
// it signs in at once.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Receipt, error) {
	if err := checkInput(req); err != nil {
		return nil, err
	}
	started, err := c.isStarted()
	if err != nil {
		return nil, err
	}

	receipt, err := c.api.Register(ctx, api.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return nil, err
	}

	if !receipt.VerificationRequired {
		_, err := c.Login(ctx, req.Email, req.Password)
		return receipt, err
	}

	c.emitAudit(ctx, AuditVerificationRequired, false, receipt.UserID, req.Email, nil, map[string]string{"trigger": "register"})
	if started {
		if err := c.orch.Begin(ctx, req.Email, req.Password); err != nil {
			return receipt, err
		}
	}
	return receipt, nil
}

// Logout describes the logout operation and its observable behavior.
//
// Logout stops any verification wait, cancels the refresh timer, clears the principal and the shared
// vault, and then tells the backend. Local state is cleared even when an error is returned.
func (c *Client) Logout(ctx context.Context) error {
	p := c.session.Principal()
	c.orch.Cancel()

	err := c.session.Logout(ctx)
	c.emitAudit(ctx, AuditLogout, err == nil, userIDOf(p), emailOf(p), err, nil)
	return err
}

// Refresh renews the session now. A failure drops the session; it is not
// retried.
func (c *Client) Refresh(ctx context.Context) (*Principal, error) {
	p, err := c.session.Refresh(ctx)
	if err != nil {
		c.emitAudit(ctx, AuditRefreshFailure, false, "", "", err, map[string]string{"trigger": "manual"})
		return nil, err
	}
	c.emitAudit(ctx, AuditRefreshSuccess, true, p.ID, p.Email, nil, map[string]string{"trigger": "manual"})
	return p, nil
}

// RestoreSession resumes a session from the refresh cookie, typically once
// at start. Having no session is not an error: it returns (nil, nil).
func (c *Client) RestoreSession(ctx context.Context) (*Principal, error) {
	p, err := c.session.Restore(ctx)
	if err != nil || p == nil {
		return nil, err
	}
	c.emitAudit(ctx, AuditSessionRestored, true, p.ID, p.Email, nil, nil)
	return p, nil
}

// ReloadPrincipal refetches the current user. It returns ErrNotAuthenticated
// when the tab is signed out.
func (c *Client) ReloadPrincipal(ctx context.Context) (*Principal, error) {
	return c.session.Reload(ctx)
}

// UpdatePrincipal replaces the cached user after a change made elsewhere.
func (c *Client) UpdatePrincipal(p *Principal) error {
	return c.session.Update(p)
}

// Principal returns a copy of the signed-in user, or nil.
func (c *Client) Principal() *Principal {
	return c.session.Principal()
}

func (c *Client) SessionState() SessionState {
	return c.session.State()
}

// RefreshScheduled reports whether a refresh timer is armed.
func (c *Client) RefreshScheduled() bool {
	return c.session.TimerActive()
}

func emailOf(p *Principal) string {
	if p == nil {
		return ""
	}
	return p.Email
}
