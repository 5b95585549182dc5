package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseClaimLua deletes the claim only while the caller still owns it.
// KEYS[1] = claim key
// ARGV[1] = owner
var releaseClaimLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// ClaimStore hands out short-lived exclusive claims keyed by email, so that
// at most one tab consumes a given verification.
type ClaimStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewClaimStore(redisClient redis.UniversalClient, prefix string, ttl time.Duration) *ClaimStore {
	return &ClaimStore{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Acquire reports whether owner now holds the claim for email. A claim held
// by someone else is not an error.
func (s *ClaimStore) Acquire(ctx context.Context, email, owner string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.key(email), owner, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Release drops the claim if owner still holds it.
func (s *ClaimStore) Release(ctx context.Context, email, owner string) error {
	err := releaseClaimLua.Run(ctx, s.redis, []string{s.key(email)}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Owner returns the current holder, or "" when unclaimed.
func (s *ClaimStore) Owner(ctx context.Context, email string) (string, error) {
	owner, err := s.redis.Get(ctx, s.key(email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return owner, nil
}

func (s *ClaimStore) key(email string) string {
	return s.prefix + ":" + strings.ToLower(strings.TrimSpace(email))
}
