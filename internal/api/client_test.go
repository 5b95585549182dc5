package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeError(w http.ResponseWriter, status int, code string, retryAfter int64) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"error": map[string]any{"code": code, "message": code, "retryAfter": retryAfter}}
	_ = json.NewEncoder(w).Encode(body)
}

func TestLoginStoresAccessTokenAndSendsBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			var req loginRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "user@x.com", req.Email)
			_ = json.NewEncoder(w).Encode(Session{
				User:        &Principal{ID: "u1", Email: req.Email, Roles: []string{"admin"}},
				AccessToken: "tok-1",
				ExpiresIn:   900,
			})
		case "/users/me":
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(Principal{ID: "u1", Email: "user@x.com"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, nil, time.Second)
	require.NoError(t, err)

	sess, err := c.Login(context.Background(), "user@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, int64(900), sess.ExpiresIn)
	assert.True(t, sess.User.HasRole("ADMIN"))
	assert.Equal(t, "tok-1", c.AccessToken())

	_, err = c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestErrorCodesMapToSentinels(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		want   error
	}{
		{"invalid credentials", http.StatusUnauthorized, CodeInvalidCredentials, ErrInvalidCredentials},
		{"verification required", http.StatusForbidden, CodeVerificationRequired, ErrVerificationRequired},
		{"already verified", http.StatusConflict, CodeAlreadyVerified, ErrAlreadyVerified},
		{"no session", http.StatusUnauthorized, CodeNoSession, ErrUnauthorized},
		{"email taken", http.StatusConflict, CodeEmailTaken, ErrEmailTaken},
		{"status fallback 403", http.StatusForbidden, "", ErrVerificationRequired},
		{"status fallback 401", http.StatusUnauthorized, "", ErrUnauthorized},
		{"server error", http.StatusServiceUnavailable, "", ErrUnavailable},
		{"unknown client error", http.StatusTeapot, "", ErrUnexpectedResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tc.status, tc.code, 0)
			}))
			defer srv.Close()

			c, err := New(srv.URL, nil, time.Second)
			require.NoError(t, err)

			_, err = c.Login(context.Background(), "a@x.com", "pw")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCooldownErrorCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusTooManyRequests, CodeCooldownActive, 42)
	}))
	defer srv.Close()

	c, err := New(srv.URL, nil, time.Second)
	require.NoError(t, err)

	err = c.Resend(context.Background(), "a@x.com")
	require.ErrorIs(t, err, ErrCooldownActive)

	var cd *CooldownError
	require.True(t, errors.As(err, &cd))
	assert.Equal(t, 42*time.Second, cd.Remaining)
}

func TestVerificationStatusTreatsAlreadyVerifiedAsVerified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email-verification/status/a@x.com", r.URL.Path)
		writeError(w, http.StatusConflict, CodeAlreadyVerified, 0)
	}))
	defer srv.Close()

	c, err := New(srv.URL, nil, time.Second)
	require.NoError(t, err)

	ok, err := c.VerificationStatus(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := New(url, nil, time.Second)
	require.NoError(t, err)

	_, err = c.VerificationStatus(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransient(err))
}

func TestRefreshUsesCookieFromLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r1", Path: "/", HttpOnly: true})
			_ = json.NewEncoder(w).Encode(Session{User: &Principal{ID: "u1"}})
		case "/auth/refresh":
			ck, err := r.Cookie("refresh_token")
			if err != nil || ck.Value != "r1" {
				writeError(w, http.StatusUnauthorized, CodeNoSession, 0)
				return
			}
			_ = json.NewEncoder(w).Encode(Session{User: &Principal{ID: "u1"}, AccessToken: "tok-2"})
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, nil, time.Second)
	require.NoError(t, err)

	_, err = c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = c.Login(context.Background(), "a@x.com", "pw")
	require.NoError(t, err)

	sess, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", sess.AccessToken)
	assert.Equal(t, "tok-2", c.AccessToken())
}

func TestNewRejectsBadScheme(t *testing.T) {
	_, err := New("ftp://example.com", nil, time.Second)
	assert.Error(t, err)
}
