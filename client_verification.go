package tabauth

import (
	"context"
	"errors"
	"time"
)

// WaitForVerification describes the waitforverification operation and its observable behavior.
//
// WaitForVerification parks email/password in the shared vault, sets the tab's waiting flag and starts
// polling the backend. The tab signs in by itself when the email is verified, whether the event arrives
// from another tab or from its own poller. Calling it again replaces the previous wait.
func (c *Client) WaitForVerification(ctx context.Context, email, password string) error {
	if err := checkInput(credentialsInput{Email: email, Password: password}); err != nil {
		return err
	}
	if err := c.requireStarted(); err != nil {
		return err
	}
	return c.orch.Begin(ctx, email, password)
}

// ResumeWaiting re-enters the wait for a credential parked before a reload.
// It reports false when nothing is parked.
func (c *Client) ResumeWaiting(ctx context.Context) (bool, error) {
	if err := c.requireStarted(); err != nil {
		return false, err
	}
	return c.orch.Resume(ctx)
}

// CancelWaiting leaves the wait early. The parked credential stays for other
// tabs.
func (c *Client) CancelWaiting() {
	c.orch.Cancel()
}

// AbandonVerification leaves the wait and discards the parked credential.
func (c *Client) AbandonVerification(ctx context.Context) error {
	return c.orch.Abandon(ctx)
}

func (c *Client) WaitingState() WaitingState {
	return c.orch.State()
}

// Waiting reports the waiting flag and the email being waited on.
func (c *Client) Waiting() (bool, string) {
	return c.orch.Waiting()
}

// ConfirmVerification describes the confirmverification operation and its observable behavior.
//
// ConfirmVerification redeems a verification token with the backend and announces the verified email
// to every tab of the origin. ErrAlreadyVerified is returned unchanged: the token no longer names an
// email, so there is nothing to announce; use PublishVerified when the email is known.
func (c *Client) ConfirmVerification(ctx context.Context, token string) (VerificationEvent, error) {
	if err := checkInput(tokenInput{Token: token}); err != nil {
		return VerificationEvent{}, err
	}
	if _, err := c.isStarted(); err != nil {
		return VerificationEvent{}, err
	}

	email, err := c.api.Verify(ctx, token)
	if err != nil {
		return VerificationEvent{}, err
	}
	return c.PublishVerified(ctx, email)
}

// PublishVerified announces email as verified to every tab of the origin,
// including this one.
func (c *Client) PublishVerified(ctx context.Context, email string) (VerificationEvent, error) {
	if err := checkInput(emailInput{Email: email}); err != nil {
		return VerificationEvent{}, err
	}
	if _, err := c.isStarted(); err != nil {
		return VerificationEvent{}, err
	}

	ev, err := c.bus.Publish(ctx, email)
	c.emitAudit(ctx, AuditVerificationPublished, err == nil, "", email, err, map[string]string{"event_timestamp": formatMillis(ev.Timestamp)})
	if err != nil {
		return VerificationEvent{}, err
	}
	return ev, nil
}

// ResendVerification asks the backend to send a new verification email.
// While the shared cooldown runs it returns a *CooldownError without calling
// the backend.
func (c *Client) ResendVerification(ctx context.Context, email string) error {
	return c.resend(ctx, email, c.api.Resend, "resend")
}

// ResendUnverified is ResendVerification for accounts created before
// verification was enforced.
func (c *Client) ResendUnverified(ctx context.Context, email string) error {
	return c.resend(ctx, email, c.api.ResendUnverified, "resend_unverified")
}

// CooldownRemaining returns how long until email may be resent; zero when
// it may be resent now.
func (c *Client) CooldownRemaining(ctx context.Context, email string) (time.Duration, error) {
	if err := checkInput(emailInput{Email: email}); err != nil {
		return 0, err
	}
	return c.cooldown.Remaining(ctx, email)
}

func (c *Client) resend(ctx context.Context, email string, call func(context.Context, string) error, kind string) error {
	if err := checkInput(emailInput{Email: email}); err != nil {
		return err
	}
	if _, err := c.isStarted(); err != nil {
		return err
	}

	remaining, err := c.cooldown.Remaining(ctx, email)
	if err != nil {
		return err
	}
	if remaining > 0 {
		c.metrics.Inc(MetricResendCooldown)
		return &CooldownError{Remaining: remaining}
	}

	if err := call(ctx, email); err != nil {
		var cd *CooldownError
		if errors.As(err, &cd) {
			c.metrics.Inc(MetricResendCooldown)
			if startErr := c.cooldown.Start(ctx, email, cd.Remaining); startErr != nil {
				c.log.Warn("resend cooldown not recorded", "email", email, "error", startErr)
			}
		}
		c.emitAudit(ctx, AuditVerificationResent, false, "", email, err, map[string]string{"kind": kind})
		return err
	}

	if err := c.cooldown.Start(ctx, email, 0); err != nil {
		c.log.Warn("resend cooldown not recorded", "email", email, "error", err)
	}
	c.metrics.Inc(MetricResendSuccess)
	c.emitAudit(ctx, AuditVerificationResent, true, "", email, nil, map[string]string{"kind": kind})
	return nil
}
