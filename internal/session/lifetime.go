package session

import (
	"time"

	"github.com/MrEthical07/tabauth/internal/api"
	"github.com/golang-jwt/jwt/v5"
)

// tokenLifetime resolves how long the access token in sess lives: the
// server's expiresIn, else the token's own exp claim, else fallback.
func tokenLifetime(sess *api.Session, now time.Time, fallback time.Duration) time.Duration {
	if sess == nil {
		return fallback
	}
	if sess.ExpiresIn > 0 {
		return time.Duration(sess.ExpiresIn) * time.Second
	}
	if sess.AccessToken != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				if d := exp.Sub(now); d > 0 {
					return d
				}
			}
		}
	}
	return fallback
}

// renewalDelay is when to refresh a token living lifetime: margin before it
// expires, or at 14/15 of its life when the margin does not fit.
func renewalDelay(lifetime, margin time.Duration) time.Duration {
	if lifetime > margin && margin > 0 {
		return lifetime - margin
	}
	return lifetime * 14 / 15
}
