package session

import (
	"testing"
	"time"

	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return s
}

func TestTokenLifetimeResolution(t *testing.T) {
	now := time.Now()

	if d := tokenLifetime(&api.Session{ExpiresIn: 900}, now, time.Minute); d != 15*time.Minute {
		t.Fatalf("expiresIn: got %v", d)
	}

	tok := signedToken(t, now.Add(10*time.Minute))
	d := tokenLifetime(&api.Session{AccessToken: tok}, now, time.Minute)
	if d < 9*time.Minute || d > 10*time.Minute {
		t.Fatalf("exp claim: got %v", d)
	}

	expired := signedToken(t, now.Add(-time.Minute))
	if d := tokenLifetime(&api.Session{AccessToken: expired}, now, 7*time.Minute); d != 7*time.Minute {
		t.Fatalf("expired token should fall back, got %v", d)
	}
	if d := tokenLifetime(&api.Session{AccessToken: "opaque"}, now, 7*time.Minute); d != 7*time.Minute {
		t.Fatalf("opaque token should fall back, got %v", d)
	}
	if d := tokenLifetime(nil, now, 7*time.Minute); d != 7*time.Minute {
		t.Fatalf("nil session should fall back, got %v", d)
	}
}

func TestRenewalDelay(t *testing.T) {
	if d := renewalDelay(15*time.Minute, time.Minute); d != 14*time.Minute {
		t.Fatalf("expected minute 14 of 15, got %v", d)
	}
	if d := renewalDelay(150*time.Millisecond, time.Minute); d != 140*time.Millisecond {
		t.Fatalf("expected 14/15 when margin does not fit, got %v", d)
	}
	if d := renewalDelay(15*time.Minute, 0); d != 14*time.Minute {
		t.Fatalf("expected 14/15 with zero margin, got %v", d)
	}
}
