package boltstore

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"kioskvote.org/internal/kiosk"
)

type storedKiosk struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Comment   string     `json:"comment"`
	AuthCode  string     `json:"auth_code"`
	LastPing  *time.Time `json:"last_ping,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (k storedKiosk) kiosk() kiosk.Kiosk {
	return kiosk.Kiosk{ID: k.ID, Name: k.Name, Comment: k.Comment, AuthCode: k.AuthCode, LastPing: k.LastPing, CreatedAt: k.CreatedAt}
}

func (s *Store) CreateKiosk(ctx context.Context, k *kiosk.Kiosk) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		kiosks, auth := tx.Bucket(bucketKiosks), tx.Bucket(bucketKioskAuth)
		if kiosks.Get([]byte(k.ID)) != nil || auth.Get([]byte(k.AuthCode)) != nil {
			return kiosk.ErrAlreadyExists
		}
		data, err := json.Marshal(storedKiosk{
			ID: k.ID, Name: k.Name, Comment: k.Comment, AuthCode: k.AuthCode,
			LastPing: k.LastPing, CreatedAt: k.CreatedAt.UTC(),
		})
		if err != nil {
			return err
		}
		if err := kiosks.Put([]byte(k.ID), data); err != nil {
			return err
		}
		return auth.Put([]byte(k.AuthCode), []byte(k.ID))
	})
}

func (s *Store) FindKioskByAuthCode(ctx context.Context, authCode string) (kiosk.Kiosk, error) {
	var out kiosk.Kiosk
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketKioskAuth).Get([]byte(authCode))
		if id == nil {
			return kiosk.ErrNotFound
		}
		raw := tx.Bucket(bucketKiosks).Get(id)
		if raw == nil {
			return kiosk.ErrNotFound
		}
		var k storedKiosk
		if err := json.Unmarshal(raw, &k); err != nil {
			return err
		}
		out = k.kiosk()
		return nil
	})
	return out, err
}

func (s *Store) TouchKiosk(ctx context.Context, id string, at time.Time) (kiosk.Kiosk, error) {
	var out kiosk.Kiosk
	err := s.db.Update(func(tx *bolt.Tx) error {
		kiosks := tx.Bucket(bucketKiosks)
		raw := kiosks.Get([]byte(id))
		if raw == nil {
			return kiosk.ErrNotFound
		}
		var k storedKiosk
		if err := json.Unmarshal(raw, &k); err != nil {
			return err
		}
		at = at.UTC()
		k.LastPing = &at
		data, err := json.Marshal(k)
		if err != nil {
			return err
		}
		if err := kiosks.Put([]byte(id), data); err != nil {
			return err
		}
		out = k.kiosk()
		return nil
	})
	return out, err
}
