package authtest

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const refreshCookie = "refresh_token"

type user struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string // argon2id, PHC format
	Verified     bool
	Roles        []string
}

// Server is an in-memory account backend speaking the REST contract the
// tab client expects. It is meant for tests, examples and load runs.
type Server struct {
	srv    *httptest.Server
	secret []byte

	mu             sync.Mutex
	users          map[string]*user
	verifyTokens   map[string]string
	refreshTokens  map[string]string
	resendLimiters map[string]*rate.Limiter
	accessTTL      time.Duration
	omitExpiresIn  bool
	resendCooldown time.Duration
	failStatus     int

	loginCalls  atomic.Int64
	statusCalls atomic.Int64
	resendCalls atomic.Int64
}

// NewServer starts a backend on a loopback port. Close it when done.
func NewServer() *Server {
	s := &Server{
		secret:         []byte(uuid.NewString()),
		users:          make(map[string]*user),
		verifyTokens:   make(map[string]string),
		refreshTokens:  make(map[string]string),
		resendLimiters: make(map[string]*rate.Limiter),
		accessTTL:      15 * time.Minute,
		resendCooldown: 60 * time.Second,
	}
	s.srv = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)
		r.Post("/logout", s.handleLogout)
		r.Post("/refresh", s.handleRefresh)
	})
	r.Get("/users/me", s.handleMe)
	r.Route("/email-verification", func(r chi.Router) {
		r.Get("/status/{email}", s.handleStatus)
		r.Post("/verify", s.handleVerify)
		r.Post("/resend", s.handleResend)
		r.Post("/resend-unverified", s.handleResend)
	})
	return r
}

func (s *Server) URL() string {
	return s.srv.URL
}

func (s *Server) Close() {
	s.srv.Close()
}

/*
====================================
TEST CONTROLS
====================================
*/

// AddUser registers an account directly and returns its id.
func (s *Server) AddUser(email, password string, verified bool) string {
	u := &user{
		ID:           uuid.NewString(),
		Username:     strings.SplitN(email, "@", 2)[0],
		Email:        email,
		PasswordHash: mustHash(password),
		Verified:     verified,
		Roles:        []string{"user"},
	}
	s.mu.Lock()
	s.users[normalize(email)] = u
	s.mu.Unlock()
	return u.ID
}

// VerificationToken issues a fresh verification token for email, as the
// link in a verification mail would carry.
func (s *Server) VerificationToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueTokenLocked(email)
}

// MarkVerified verifies email out of band, as if the link had been opened
// on another device.
func (s *Server) MarkVerified(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[normalize(email)]; ok {
		u.Verified = true
	}
}

// SetPassword changes a password, so that a parked credential goes stale.
func (s *Server) SetPassword(email, password string) {
	hash := mustHash(password)
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[normalize(email)]; ok {
		u.PasswordHash = hash
	}
}

// FailStatusChecks makes the next n status queries answer 503.
func (s *Server) FailStatusChecks(n int) {
	s.mu.Lock()
	s.failStatus = n
	s.mu.Unlock()
}

// SetAccessTTL sets the lifetime of issued access tokens. With omitExpiresIn
// the lifetime is only stated in the token's exp claim.
func (s *Server) SetAccessTTL(ttl time.Duration, omitExpiresIn bool) {
	s.mu.Lock()
	s.accessTTL = ttl
	s.omitExpiresIn = omitExpiresIn
	s.mu.Unlock()
}

func (s *Server) SetResendCooldown(d time.Duration) {
	s.mu.Lock()
	s.resendCooldown = d
	s.resendLimiters = make(map[string]*rate.Limiter)
	s.mu.Unlock()
}

func (s *Server) LoginCalls() int64  { return s.loginCalls.Load() }
func (s *Server) StatusCalls() int64 { return s.statusCalls.Load() }
func (s *Server) ResendCalls() int64 { return s.resendCalls.Load() }

/*
====================================
HANDLERS
====================================
*/

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), 0)
		return
	}

	s.mu.Lock()
	u, ok := s.users[normalize(in.Email)]
	var hash string
	var verified bool
	if ok {
		hash, verified = u.PasswordHash, u.Verified
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", 0)
		return
	}
	if match, err := checkPassword(in.Password, hash); err != nil || !match {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", 0)
		return
	}
	if !verified {
		writeError(w, http.StatusForbidden, "verification_required", "email not verified", 0)
		return
	}

	s.writeSession(w, u)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email and password are required", 0)
		return
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), 0)
		return
	}

	s.mu.Lock()
	if _, exists := s.users[normalize(in.Email)]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "email_taken", "email already registered", 0)
		return
	}
	u := &user{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Roles:        []string{"user"},
	}
	s.users[normalize(in.Email)] = u
	s.issueTokenLocked(in.Email)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"userId":               u.ID,
		"email":                u.Email,
		"verificationRequired": true,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookie); err == nil {
		s.mu.Lock()
		delete(s.refreshTokens, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "no_session", "no refresh cookie", 0)
		return
	}

	s.mu.Lock()
	email, ok := s.refreshTokens[c.Value]
	delete(s.refreshTokens, c.Value)
	u := s.users[email]
	s.mu.Unlock()
	if !ok || u == nil {
		writeError(w, http.StatusUnauthorized, "no_session", "unknown refresh token", 0)
		return
	}

	s.writeSession(w, u)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), 0)
		return
	}
	writeJSON(w, http.StatusOK, principalOf(u))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.statusCalls.Add(1)

	s.mu.Lock()
	if s.failStatus > 0 {
		s.failStatus--
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "unavailable", "try again", 0)
		return
	}
	u, ok := s.users[normalize(chi.URLParam(r, "email"))]
	verified := ok && u.Verified
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"verified": verified})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), 0)
		return
	}

	s.mu.Lock()
	email, ok := s.verifyTokens[in.Token]
	u := s.users[email]
	if !ok || u == nil {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "invalid_token", "unknown or used token", 0)
		return
	}
	delete(s.verifyTokens, in.Token)
	if u.Verified {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "already_verified", "email already verified", 0)
		return
	}
	u.Verified = true
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"email": u.Email, "verified": true})
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	s.resendCalls.Add(1)

	var in struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), 0)
		return
	}
	key := normalize(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[key]
	if ok && u.Verified {
		writeError(w, http.StatusConflict, "already_verified", "email already verified", 0)
		return
	}

	lim, ok := s.resendLimiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.resendCooldown), 1)
		s.resendLimiters[key] = lim
	}
	res := lim.Reserve()
	if d := res.Delay(); d > 0 {
		res.Cancel()
		retry := int64(math.Ceil(d.Seconds()))
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
		writeError(w, http.StatusTooManyRequests, "cooldown_active", "resend cooldown active", retry)
		return
	}

	if u != nil {
		s.issueTokenLocked(u.Email)
	}
	// Unknown addresses get the same answer as known ones.
	w.WriteHeader(http.StatusAccepted)
}

/*
====================================
HELPERS
====================================
*/

func (s *Server) writeSession(w http.ResponseWriter, u *user) {
	s.mu.Lock()
	ttl := s.accessTTL
	omit := s.omitExpiresIn
	refresh := uuid.NewString()
	s.refreshTokens[refresh] = normalize(u.Email)
	principal := principalOf(u)
	s.mu.Unlock()

	access, err := s.signAccess(u.ID, ttl)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), 0)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Value: refresh, Path: "/", HttpOnly: true})

	body := map[string]any{
		"user":        principal,
		"accessToken": access,
	}
	if !omit {
		body["expiresIn"] = int64(ttl / time.Second)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) signAccess(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	})
	return tok.SignedString(s.secret)
}

func (s *Server) authenticate(r *http.Request) (*user, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return nil, errors.New("missing bearer token")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == claims.Subject {
			return u, nil
		}
	}
	return nil, errors.New("unknown subject")
}

func (s *Server) issueTokenLocked(email string) string {
	tok := uuid.NewString()
	s.verifyTokens[tok] = normalize(email)
	return tok
}

func principalOf(u *user) map[string]any {
	return map[string]any{
		"id":            u.ID,
		"username":      u.Username,
		"email":         u.Email,
		"roles":         append([]string(nil), u.Roles...),
		"emailVerified": u.Verified,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string, retryAfter int64) {
	body := map[string]any{"code": code, "message": message}
	if retryAfter > 0 {
		body["retryAfter"] = retryAfter
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func mustHash(password string) string {
	hash, err := hashPassword(password)
	if err != nil {
		panic("authtest: hash password: " + err.Error())
	}
	return hash
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
