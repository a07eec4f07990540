package eligibility

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Student is one fixture record for the Static client.
type Student struct {
	UID        string `json:"uid"`
	Serial     string `json:"serial"`
	OnCampus   bool   `json:"on_campus"`
	WebEnabled bool   `json:"web_ok"`
	Category   string `json:"category,omitempty"`
	Unit       string `json:"unit,omitempty"`
}

// Static answers lookups from an in-process table. A lookup with the wrong
// serial is rejected with a ":<serial>" hint, like the real service.
type Static struct {
	mu       sync.RWMutex
	students map[string]Student
	calls    []string
}

func NewStatic(students ...Student) *Static {
	s := &Static{students: make(map[string]Student, len(students))}
	for _, st := range students {
		s.students[st.UID] = st
	}
	return s
}

// LoadStatic reads {"students":[...]} from path.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var doc struct {
		Students []Student `json:"students"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return NewStatic(doc.Students...), nil
}

func (s *Static) Lookup(ctx context.Context, uid, serial string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.mu.Lock()
	s.calls = append(s.calls, uid+serial)
	st, ok := s.students[uid]
	s.mu.Unlock()

	if !ok {
		return Result{Error: "student not found"}, nil
	}
	if st.Serial != serial {
		return Result{Error: "card serial mismatch:" + st.Serial}, nil
	}
	return Result{
		OnCampus:   st.OnCampus,
		WebEnabled: st.WebEnabled,
		Category:   st.Category,
		Unit:       st.Unit,
	}, nil
}

// Calls returns the ids queried so far, serial included.
func (s *Static) Calls() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}
