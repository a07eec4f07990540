// Package boltstore is the embedded single-file backend. Every mutating
// operation runs in one bbolt read-write transaction, which bbolt serialises.
package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"kioskvote.org/internal/audit"
	"kioskvote.org/internal/ballot"
	"kioskvote.org/internal/kiosk"
)

var (
	bucketBallots   = []byte("ballots")
	bucketBallotTx  = []byte("ballot_tx")
	bucketKiosks    = []byte("kiosks")
	bucketKioskAuth = []byte("kiosk_auth")
	bucketAudit     = []byte("audit")
)

var ErrBucketNotFound = errors.New("boltstore: bucket not found")

type Store struct {
	db *bolt.DB
}

var (
	_ ballot.Repository = (*Store)(nil)
	_ kiosk.Store       = (*Store)(nil)
	_ audit.Store       = (*Store)(nil)
)

// Open opens or creates the database file and its buckets.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBallots, bucketBallotTx, bucketKiosks, bucketKioskAuth, bucketAudit} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the buckets are readable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketBallots) == nil {
			return ErrBucketNotFound
		}
		return nil
	})
}

type storedBallot struct {
	ID          string     `json:"id"`
	UID         string     `json:"uid"`
	Serial      *string    `json:"serial"`
	KioskID     string     `json:"kiosk_id"`
	Tx          string     `json:"tx"`
	Committed   bool       `json:"committed"`
	CardSec     string     `json:"card_sec"`
	Category    string     `json:"category"`
	Unit        string     `json:"unit"`
	CreatedAt   time.Time  `json:"created_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
}

func toStoredBallot(r ballot.Record) storedBallot {
	return storedBallot{
		ID: r.ID, UID: r.UID, Serial: r.Serial, KioskID: r.KioskID, Tx: r.Tx,
		Committed: r.Committed, CardSec: r.CardSec, Category: r.Category, Unit: r.Unit,
		CreatedAt: r.CreatedAt, CommittedAt: r.CommittedAt,
	}
}

func (b storedBallot) record() ballot.Record {
	return ballot.Record{
		ID: b.ID, UID: b.UID, Serial: b.Serial, KioskID: b.KioskID, Tx: b.Tx,
		Committed: b.Committed, CardSec: b.CardSec, Category: b.Category, Unit: b.Unit,
		CreatedAt: b.CreatedAt, CommittedAt: b.CommittedAt,
	}
}

func (s *Store) FindOrCreateBallot(ctx context.Context, draft ballot.Record) (ballot.Record, bool, error) {
	if draft.Tx == "" {
		draft.Tx = ballot.NoToken
	}
	var (
		out     ballot.Record
		created bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		ballots := tx.Bucket(bucketBallots)
		if raw := ballots.Get([]byte(draft.UID)); raw != nil {
			var existing storedBallot
			if err := json.Unmarshal(raw, &existing); err != nil {
				return err
			}
			out = existing.record()
			return nil
		}
		if tx.Bucket(bucketKiosks).Get([]byte(draft.KioskID)) == nil {
			return fmt.Errorf("boltstore: unknown kiosk %q", draft.KioskID)
		}
		data, err := json.Marshal(toStoredBallot(draft))
		if err != nil {
			return err
		}
		if err := ballots.Put([]byte(draft.UID), data); err != nil {
			return err
		}
		if draft.Tx != ballot.NoToken {
			idx := tx.Bucket(bucketBallotTx)
			if idx.Get([]byte(draft.Tx)) != nil {
				return fmt.Errorf("boltstore: duplicate tx")
			}
			if err := idx.Put([]byte(draft.Tx), []byte(draft.UID)); err != nil {
				return err
			}
		}
		out, created = draft, true
		return nil
	})
	if err != nil {
		return ballot.Record{}, false, err
	}
	return out, created, nil
}

func (s *Store) CommitBallot(ctx context.Context, txToken, kioskID string, at time.Time) (bool, error) {
	if txToken == ballot.NoToken {
		return false, nil
	}
	var ok bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		uid := tx.Bucket(bucketBallotTx).Get([]byte(txToken))
		if uid == nil {
			return nil
		}
		ballots := tx.Bucket(bucketBallots)
		raw := ballots.Get(uid)
		if raw == nil {
			return nil
		}
		var rec storedBallot
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.KioskID != kioskID || rec.Committed {
			return nil
		}
		at = at.UTC()
		rec.Committed, rec.CommittedAt = true, &at
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := ballots.Put(uid, data); err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

func (s *Store) GetBallot(ctx context.Context, uid string) (ballot.Record, error) {
	var out ballot.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBallots).Get([]byte(uid))
		if raw == nil {
			return ballot.ErrNotFound
		}
		var rec storedBallot
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		out = rec.record()
		return nil
	})
	return out, err
}
