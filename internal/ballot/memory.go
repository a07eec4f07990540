package ballot

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Repository with in-process concurrency safety.
type InMemory struct {
	mu    sync.Mutex
	byUID map[string]*Record
	byTx  map[string]string // tx -> uid
}

func NewInMemory() *InMemory {
	return &InMemory{
		byUID: make(map[string]*Record),
		byTx:  make(map[string]string),
	}
}

func (s *InMemory) FindOrCreateBallot(ctx context.Context, draft Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byUID[draft.UID]; ok {
		return cloneRecord(*rec), false, nil
	}
	if draft.Tx == "" {
		draft.Tx = NoToken
	}
	rec := cloneRecord(draft)
	s.byUID[rec.UID] = &rec
	if rec.Tx != NoToken {
		s.byTx[rec.Tx] = rec.UID
	}
	return cloneRecord(rec), true, nil
}

func (s *InMemory) CommitBallot(ctx context.Context, tx, kioskID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid, ok := s.byTx[tx]
	if !ok {
		return false, nil
	}
	rec := s.byUID[uid]
	if rec.KioskID != kioskID || rec.Committed {
		return false, nil
	}
	at = at.UTC()
	rec.Committed = true
	rec.CommittedAt = &at
	return true, nil
}

func (s *InMemory) GetBallot(ctx context.Context, uid string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byUID[uid]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(*rec), nil
}
