package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrResendLimiterUnavailable = errors.New("resend limiter unavailable")

// ResendCooldown is the shared per-email countdown between verification
// resends. Every tab of the origin sees the same remaining time.
type ResendCooldown struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration
}

func NewResendCooldown(redisClient redis.UniversalClient, prefix string, window time.Duration) *ResendCooldown {
	return &ResendCooldown{
		redis:  redisClient,
		prefix: prefix,
		window: window,
	}
}

// Remaining returns how long until email may be resent again; zero when the
// cooldown is not running.
func (c *ResendCooldown) Remaining(ctx context.Context, email string) (time.Duration, error) {
	if c == nil {
		return 0, nil
	}
	ttl, err := c.redis.PTTL(ctx, c.key(email)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResendLimiterUnavailable, err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// Start (re)arms the cooldown. A non-positive d uses the configured window.
func (c *ResendCooldown) Start(ctx context.Context, email string, d time.Duration) error {
	if c == nil {
		return nil
	}
	if d <= 0 {
		d = c.window
	}
	if d <= 0 {
		return nil
	}
	if err := c.redis.Set(ctx, c.key(email), "1", d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResendLimiterUnavailable, err)
	}
	return nil
}

func (c *ResendCooldown) Window() time.Duration {
	if c == nil {
		return 0
	}
	return c.window
}

func (c *ResendCooldown) key(email string) string {
	return c.prefix + ":" + strings.ToLower(strings.TrimSpace(email))
}
