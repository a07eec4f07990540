package kiosk

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store for tests and single-process deployments.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[string]*Kiosk
	byCode map[string]string
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[string]*Kiosk),
		byCode: make(map[string]string),
	}
}

func (s *InMemory) CreateKiosk(ctx context.Context, k *Kiosk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[k.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.byCode[k.AuthCode]; ok {
		return ErrAlreadyExists
	}
	cp := *k
	s.byID[k.ID] = &cp
	s.byCode[k.AuthCode] = k.ID
	return nil
}

func (s *InMemory) FindKioskByAuthCode(ctx context.Context, authCode string) (Kiosk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[authCode]
	if !ok {
		return Kiosk{}, ErrNotFound
	}
	return copyKiosk(s.byID[id]), nil
}

func (s *InMemory) TouchKiosk(ctx context.Context, id string, at time.Time) (Kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return Kiosk{}, ErrNotFound
	}
	at = at.UTC()
	k.LastPing = &at
	return copyKiosk(k), nil
}

func copyKiosk(k *Kiosk) Kiosk {
	out := *k
	if k.LastPing != nil {
		t := *k.LastPing
		out.LastPing = &t
	}
	return out
}
