package authtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *Server) *api.Client {
	t.Helper()
	c, err := api.New(srv.URL(), nil, 2*time.Second)
	require.NoError(t, err)
	return c
}

func TestLoginGatedOnVerification(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	srv.AddUser("ana@example.com", "hunter22", false)

	c := newClient(t, srv)
	ctx := context.Background()

	_, err := c.Login(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, api.ErrInvalidCredentials)

	_, err = c.Login(ctx, "ana@example.com", "hunter22")
	assert.ErrorIs(t, err, api.ErrVerificationRequired)

	srv.MarkVerified("ANA@example.com")
	sess, err := c.Login(ctx, "ana@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", sess.User.Email)
	assert.True(t, sess.User.EmailVerified)
	assert.Equal(t, int64(900), sess.ExpiresIn)
	assert.NotEmpty(t, c.AccessToken())
	assert.Equal(t, int64(3), srv.LoginCalls())
}

func TestRegisterAndVerify(t *testing.T) {
	srv := NewServer()
	defer srv.Close()

	c := newClient(t, srv)
	ctx := context.Background()

	rec, err := c.Register(ctx, api.RegisterRequest{Username: "bo", Email: "bo@example.com", Password: "longenough"})
	require.NoError(t, err)
	assert.True(t, rec.VerificationRequired)
	assert.NotEmpty(t, rec.UserID)

	_, err = c.Register(ctx, api.RegisterRequest{Username: "bo", Email: "BO@example.com", Password: "longenough"})
	assert.ErrorIs(t, err, api.ErrEmailTaken)

	verified, err := c.VerificationStatus(ctx, "bo@example.com")
	require.NoError(t, err)
	assert.False(t, verified)

	token := srv.VerificationToken("bo@example.com")
	email, err := c.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "bo@example.com", email)

	verified, err = c.VerificationStatus(ctx, "bo@example.com")
	require.NoError(t, err)
	assert.True(t, verified)

	_, err = c.Verify(ctx, srv.VerificationToken("bo@example.com"))
	assert.ErrorIs(t, err, api.ErrAlreadyVerified)
}

func TestSessionRefreshAndMe(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	id := srv.AddUser("cy@example.com", "password1", true)

	c := newClient(t, srv)
	ctx := context.Background()

	_, err := c.Me(ctx)
	assert.ErrorIs(t, err, api.ErrUnauthorized)

	_, err = c.Login(ctx, "cy@example.com", "password1")
	require.NoError(t, err)
	first := c.AccessToken()

	p, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)

	sess, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, sess.User.ID)
	assert.NotEqual(t, first, c.AccessToken())

	require.NoError(t, c.Logout(ctx))
	_, err = c.Refresh(ctx)
	assert.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestOmitExpiresIn(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	srv.AddUser("di@example.com", "password1", true)
	srv.SetAccessTTL(time.Minute, true)

	c := newClient(t, srv)
	sess, err := c.Login(context.Background(), "di@example.com", "password1")
	require.NoError(t, err)
	assert.Zero(t, sess.ExpiresIn)
	assert.NotEmpty(t, sess.AccessToken)
}

func TestStatusFailures(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	srv.AddUser("ed@example.com", "password1", true)
	srv.FailStatusChecks(2)

	c := newClient(t, srv)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.VerificationStatus(ctx, "ed@example.com")
		assert.ErrorIs(t, err, api.ErrUnavailable)
	}
	verified, err := c.VerificationStatus(ctx, "ed@example.com")
	require.NoError(t, err)
	assert.True(t, verified)
	assert.Equal(t, int64(3), srv.StatusCalls())
}

func TestResendCooldown(t *testing.T) {
	srv := NewServer()
	defer srv.Close()
	srv.AddUser("fa@example.com", "password1", false)
	srv.AddUser("gi@example.com", "password1", true)

	c := newClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.Resend(ctx, "fa@example.com"))

	err := c.Resend(ctx, "fa@example.com")
	var cd *api.CooldownError
	require.True(t, errors.As(err, &cd))
	assert.Greater(t, cd.Remaining, 50*time.Second)
	assert.LessOrEqual(t, cd.Remaining, 60*time.Second)

	// Unknown addresses are not revealed.
	require.NoError(t, c.ResendUnverified(ctx, "nobody@example.com"))

	err = c.Resend(ctx, "gi@example.com")
	assert.ErrorIs(t, err, api.ErrAlreadyVerified)
	assert.Equal(t, int64(4), srv.ResendCalls())
}
