// Package ballot implements the token issuance and redemption protocol.
package ballot

import (
	"context"
	"errors"
	"time"
)

// NoToken is the stored tx of a record that has no redeemable token.
const NoToken = "!"

var ErrNotFound = errors.New("ballot: not found")

// Record is the single per-voter ballot. Serial is nil when the serial was
// discovered by probing rather than supplied by the kiosk.
type Record struct {
	ID          string     `json:"id"`
	UID         string     `json:"uid"`
	Serial      *string    `json:"serial"`
	KioskID     string     `json:"kiosk_id"`
	Tx          string     `json:"-"`
	Committed   bool       `json:"committed"`
	CardSec     string     `json:"card_sec,omitempty"`
	Category    string     `json:"category,omitempty"`
	Unit        string     `json:"unit,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
}

// Repository is the durable ballot store. Both mutating operations must be
// atomic in the backing store.
type Repository interface {
	// FindOrCreateBallot stores draft unless a record for draft.UID exists and
	// returns the stored record together with whether it was just created.
	FindOrCreateBallot(ctx context.Context, draft Record) (Record, bool, error)
	// CommitBallot marks the uncommitted record holding tx and owned by
	// kioskID as committed. It reports false when no such record exists.
	CommitBallot(ctx context.Context, tx, kioskID string, at time.Time) (bool, error)
	GetBallot(ctx context.Context, uid string) (Record, error)
}

// sameSerial is nil-aware string equality.
func sameSerial(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func strPtr(s string) *string { return &s }

func cloneRecord(r Record) Record {
	if r.Serial != nil {
		r.Serial = strPtr(*r.Serial)
	}
	if r.CommittedAt != nil {
		t := *r.CommittedAt
		r.CommittedAt = &t
	}
	return r
}
