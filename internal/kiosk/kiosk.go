// Package kiosk owns polling-station identities and their credentials.
package kiosk

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("kiosk: not found")
	ErrAlreadyExists = errors.New("kiosk: already exists")
	ErrInvalidInput  = errors.New("kiosk: invalid input")
)

// Kiosk is an authenticated polling station. AuthCode is the keyed hash of
// the kiosk secret and is never serialised.
type Kiosk struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Comment   string     `json:"comment,omitempty"`
	AuthCode  string     `json:"-"`
	LastPing  *time.Time `json:"last_ping"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store persists kiosks.
type Store interface {
	CreateKiosk(ctx context.Context, k *Kiosk) error
	FindKioskByAuthCode(ctx context.Context, authCode string) (Kiosk, error)
	// TouchKiosk sets last_ping and returns the updated record.
	TouchKiosk(ctx context.Context, id string, at time.Time) (Kiosk, error)
}

// HashSecret derives the stored auth code for a presented secret.
func HashSecret(salt, secret string) string {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks the fields required before a kiosk is stored.
func (k Kiosk) Validate() error {
	if strings.TrimSpace(k.Name) == "" {
		return errors.Join(ErrInvalidInput, errors.New("name is required"))
	}
	if len(k.AuthCode) != sha256.Size*2 {
		return errors.Join(ErrInvalidInput, errors.New("auth code must be a sha256 hex digest"))
	}
	return nil
}

type kioskContextKey struct{}

// ContextWithKiosk attaches the authenticated kiosk to the context.
func ContextWithKiosk(ctx context.Context, k Kiosk) context.Context {
	return context.WithValue(ctx, kioskContextKey{}, &k)
}

// FromContext extracts the authenticated kiosk from the context.
func FromContext(ctx context.Context) (Kiosk, bool) {
	if ctx == nil {
		return Kiosk{}, false
	}
	v, ok := ctx.Value(kioskContextKey{}).(*Kiosk)
	if !ok || v == nil {
		return Kiosk{}, false
	}
	return *v, true
}
