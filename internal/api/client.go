package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const maxErrorBody = 64 << 10

// Client talks to the REST backend. The refresh credential lives in the cookie
// jar and is never read here; the access token returned by login/refresh is
// attached to later requests.
type Client struct {
	base *url.URL
	http *http.Client

	mu          sync.RWMutex
	accessToken string
}

// New builds a client for baseURL. A nil httpClient gets a fresh one with a
// cookie jar and the given timeout; a client without a jar is copied and given
// one, since refresh depends on the cookie set at login.
func New(baseURL string, httpClient *http.Client, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", base.Scheme)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		clone := *httpClient
		clone.Jar = jar
		httpClient = &clone
	}

	return &Client{base: base, http: httpClient}, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	c.setAccessToken(out.AccessToken)
	return &out, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Receipt, error) {
	var out Receipt
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout forgets the access token even when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.setAccessToken("")
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, &out); err != nil {
		return nil, err
	}
	c.setAccessToken(out.AccessToken)
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*Principal, error) {
	var out Principal
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerificationStatus reports whether email is verified. An already_verified
// answer counts as verified.
func (c *Client) VerificationStatus(ctx context.Context, email string) (bool, error) {
	var out statusResponse
	err := c.do(ctx, http.MethodGet, "/email-verification/status/"+url.PathEscape(email), nil, &out)
	if errors.Is(err, ErrAlreadyVerified) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return out.Verified, nil
}

// Verify confirms a verification token and returns the verified email.
func (c *Client) Verify(ctx context.Context, token string) (string, error) {
	var out verifyResponse
	if err := c.do(ctx, http.MethodPost, "/email-verification/verify", verifyRequest{Token: token}, &out); err != nil {
		return "", err
	}
	if out.Email == "" {
		return "", fmt.Errorf("%w: verify response without email", ErrUnexpectedResponse)
	}
	return out.Email, nil
}

func (c *Client) Resend(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/email-verification/resend", emailRequest{Email: email}, nil)
}

func (c *Client) ResendUnverified(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/email-verification/resend-unverified", emailRequest{Email: email}, nil)
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) setAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env errorEnvelope
	_ = json.Unmarshal(data, &env)

	code := env.Error.Code
	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch code {
	case CodeInvalidCredentials:
		return ErrInvalidCredentials
	case CodeVerificationRequired:
		return ErrVerificationRequired
	case CodeCooldownActive:
		return &CooldownError{Remaining: time.Duration(env.Error.RetryAfter) * time.Second}
	case CodeAlreadyVerified:
		return ErrAlreadyVerified
	case CodeUnauthorized, CodeNoSession:
		return ErrUnauthorized
	case CodeEmailTaken:
		return ErrEmailTaken
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrVerificationRequired
	case resp.StatusCode == http.StatusConflict:
		return ErrAlreadyVerified
	case resp.StatusCode == http.StatusTooManyRequests:
		return &CooldownError{Remaining: retryAfterHeader(resp)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, resp.StatusCode, msg)
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v + "s")
	if err != nil {
		return 0
	}
	return d
}
