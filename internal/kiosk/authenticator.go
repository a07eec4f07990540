package kiosk

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/erni27/imcache"

	"kioskvote.org/internal/ids"
)

// Authenticator resolves presented secrets to kiosks. Successful lookups are
// cached by auth code for ttl; misses are never cached.
type Authenticator struct {
	store Store
	salt  string
	ttl   time.Duration
	cache *imcache.Cache[string, Kiosk]
	now   func() time.Time
}

func NewAuthenticator(store Store, salt string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		store: store,
		salt:  salt,
		ttl:   ttl,
		cache: imcache.New[string, Kiosk](),
		now:   time.Now,
	}
}

// Authenticate returns ErrNotFound for an empty or unknown secret.
func (a *Authenticator) Authenticate(ctx context.Context, secret string) (Kiosk, error) {
	if strings.TrimSpace(secret) == "" {
		return Kiosk{}, ErrNotFound
	}
	code := HashSecret(a.salt, secret)
	if a.ttl > 0 {
		if k, ok := a.cache.Get(code); ok {
			return k, nil
		}
	}
	k, err := a.store.FindKioskByAuthCode(ctx, code)
	if err != nil {
		return Kiosk{}, err
	}
	if a.ttl > 0 {
		a.cache.Set(code, k, imcache.WithExpiration(a.ttl))
	}
	return k, nil
}

// Ping records that the kiosk is alive and returns the stored snapshot.
func (a *Authenticator) Ping(ctx context.Context, k Kiosk) (Kiosk, error) {
	updated, err := a.store.TouchKiosk(ctx, k.ID, a.now().UTC())
	if err != nil {
		return Kiosk{}, err
	}
	if a.ttl > 0 && updated.AuthCode != "" {
		a.cache.Set(updated.AuthCode, updated, imcache.WithExpiration(a.ttl))
	}
	return updated, nil
}

// Register creates a kiosk for secret. The secret itself is not stored.
func (a *Authenticator) Register(ctx context.Context, name, comment, secret string) (Kiosk, error) {
	if len(secret) < 16 {
		return Kiosk{}, errors.Join(ErrInvalidInput, errors.New("secret must be at least 16 characters"))
	}
	k := Kiosk{
		ID:        ids.New(),
		Name:      strings.TrimSpace(name),
		Comment:   strings.TrimSpace(comment),
		AuthCode:  HashSecret(a.salt, secret),
		CreatedAt: a.now().UTC(),
	}
	if err := k.Validate(); err != nil {
		return Kiosk{}, err
	}
	if err := a.store.CreateKiosk(ctx, &k); err != nil {
		return Kiosk{}, err
	}
	return k, nil
}
