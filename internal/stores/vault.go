package stores

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "sealed:v1:"

var (
	ErrStoreUnavailable = errors.New("shared store unavailable")
	ErrInvalidSealKey   = errors.New("vault seal key must be 32 bytes")
)

// PendingCredential is the email/password pair parked while its owner waits
// for email verification.
type PendingCredential struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Vault is the single shared pending-credential slot. The last writer wins;
// there is no per-tab keying and no history.
type Vault struct {
	redis redis.UniversalClient
	key   string
	ttl   time.Duration
	aead  cipher.AEAD
}

// NewVault binds the slot key. A zero ttl keeps the slot until cleared. With a
// non-empty sealKey the payload is sealed with XChaCha20-Poly1305; without one
// it is stored as cleartext JSON.
func NewVault(redisClient redis.UniversalClient, key string, ttl time.Duration, sealKey []byte) (*Vault, error) {
	v := &Vault{
		redis: redisClient,
		key:   key,
		ttl:   ttl,
	}
	if len(sealKey) > 0 {
		if len(sealKey) != chacha20poly1305.KeySize {
			return nil, ErrInvalidSealKey
		}
		aead, err := chacha20poly1305.NewX(sealKey)
		if err != nil {
			return nil, fmt.Errorf("vault cipher: %w", err)
		}
		v.aead = aead
	}
	return v, nil
}

func (v *Vault) Key() string {
	return v.key
}

func (v *Vault) Sealed() bool {
	return v.aead != nil
}

// Store overwrites the slot.
func (v *Vault) Store(ctx context.Context, email, password string) error {
	payload, err := json.Marshal(PendingCredential{Email: email, Password: password})
	if err != nil {
		return err
	}

	value := string(payload)
	if v.aead != nil {
		value, err = v.seal(payload)
		if err != nil {
			return err
		}
	}

	if err := v.redis.Set(ctx, v.key, value, v.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Read returns the parked credential without consuming it. A value that does
// not decode (corrupt JSON, wrong seal key, foreign format) reads as absent.
func (v *Vault) Read(ctx context.Context) (PendingCredential, bool, error) {
	raw, err := v.redis.Get(ctx, v.key).Result()
	if errors.Is(err, redis.Nil) {
		return PendingCredential{}, false, nil
	}
	if err != nil {
		return PendingCredential{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	cred, ok := v.decode(raw)
	return cred, ok, nil
}

// Clear removes the slot. Clearing an empty slot is not an error.
func (v *Vault) Clear(ctx context.Context) error {
	if err := v.redis.Del(ctx, v.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (v *Vault) decode(raw string) (PendingCredential, bool) {
	payload := []byte(raw)

	sealed := strings.HasPrefix(raw, sealedPrefix)
	switch {
	case sealed && v.aead == nil, !sealed && v.aead != nil:
		return PendingCredential{}, false
	case sealed:
		opened, err := v.open(strings.TrimPrefix(raw, sealedPrefix))
		if err != nil {
			return PendingCredential{}, false
		}
		payload = opened
	}

	var cred PendingCredential
	if err := json.Unmarshal(payload, &cred); err != nil {
		return PendingCredential{}, false
	}
	if cred.Email == "" {
		return PendingCredential{}, false
	}
	return cred, true
}

func (v *Vault) seal(plain []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plain)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault nonce: %w", err)
	}
	out := v.aead.Seal(nonce, nonce, plain, []byte(v.key))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (v *Vault) open(encoded string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(data) < v.aead.NonceSize() {
		return nil, errors.New("sealed value too short")
	}
	nonce, ct := data[:v.aead.NonceSize()], data[v.aead.NonceSize():]
	return v.aead.Open(nil, nonce, ct, []byte(v.key))
}
