package api

import "strings"

// Principal is the authenticated user as returned by the backend.
type Principal struct {
	ID                  string   `json:"id"`
	Username            string   `json:"username"`
	Email               string   `json:"email"`
	Roles               []string `json:"roles"`
	EmailVerified       bool     `json:"emailVerified"`
	ProfileCompleteness int      `json:"profileCompleteness"`
	HasPersonalInfo     bool     `json:"hasPersonalInfo"`
}

// HasRole matches role names case-insensitively.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate session state.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	out := *p
	if p.Roles != nil {
		out.Roles = append([]string(nil), p.Roles...)
	}
	return &out
}

// Session is the body of a successful login or refresh.
type Session struct {
	User        *Principal `json:"user"`
	AccessToken string     `json:"accessToken,omitempty"`
	// ExpiresIn is the access token lifetime in seconds; zero when the
	// backend does not declare it.
	ExpiresIn int64 `json:"expiresIn,omitempty"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Receipt acknowledges a registration.
type Receipt struct {
	UserID               string `json:"userId"`
	Email                string `json:"email"`
	VerificationRequired bool   `json:"verificationRequired"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

type statusResponse struct {
	Verified bool `json:"verified"`
}

type errorEnvelope struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		RetryAfter int64  `json:"retryAfter,omitempty"`
	} `json:"error"`
}
