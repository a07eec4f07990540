package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"kioskvote.org/internal/ids"
	"kioskvote.org/internal/kiosk"
	"kioskvote.org/internal/obs"
)

// Levels stored on persisted entries.
const (
	LevelInfo = "info"
	LevelWarn = "warn"
)

// Entry is one persisted audit record. Content holds the event fields as JSON.
type Entry struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Level      string    `json:"level"`
	Tag        string    `json:"tag"`
	Content    string    `json:"content"`
	KioskID    string    `json:"kiosk_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Store appends immutable entries.
type Store interface {
	AppendAudit(ctx context.Context, e Entry) error
}

// Recorder writes every event to the audit log stream and, when a store is
// configured, persists it. Persistence failures are logged and swallowed.
type Recorder struct {
	store Store
	now   func() time.Time
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record emits event. A nil Recorder only writes the log line.
func (r *Recorder) Record(ctx context.Context, level, event string, fields map[string]any) {
	if err := LogEvent(ctx, event, fields); err != nil {
		obs.Error("audit log failed", map[string]any{"event": event, "error": err.Error()})
		return
	}
	if r == nil || r.store == nil {
		return
	}

	content, err := json.Marshal(fields)
	if err != nil {
		obs.Error("audit marshal failed", map[string]any{"event": event, "error": err.Error()})
		return
	}
	if fields == nil {
		content = []byte("{}")
	}
	e := Entry{
		ID:         ids.New(),
		OccurredAt: r.now().UTC(),
		Level:      level,
		Tag:        event,
		Content:    string(content),
		RequestID:  RequestIDFromContext(ctx),
	}
	if k, ok := kiosk.FromContext(ctx); ok {
		e.KioskID = k.ID
	}
	if err := r.store.AppendAudit(ctx, e); err != nil {
		obs.Error("audit persist failed", map[string]any{
			"event":      event,
			"request_id": e.RequestID,
			"error":      err.Error(),
		})
	}
}

// MemoryStore keeps the most recent entries in process. Used by tests and
// the memory backend.
type MemoryStore struct {
	mu      sync.Mutex
	limit   int
	entries []Entry
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryStore{limit: limit}
}

// AppendAudit evicts the oldest entry once the limit is reached.
func (m *MemoryStore) AppendAudit(ctx context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == m.limit {
		m.entries = append(m.entries[:0], m.entries[1:]...)
	}
	m.entries = append(m.entries, e)
	return nil
}

// Entries returns a copy of the stored entries, oldest first.
func (m *MemoryStore) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
