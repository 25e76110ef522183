// Package memstore provides an in-memory implementation of store.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/linnemanlabs/klaxon/internal/alert"
	"github.com/linnemanlabs/klaxon/internal/store"
)

// Store holds alerts and attempts in memory. Suitable for dev/testing.
type Store struct {
	mu         sync.RWMutex
	alerts     map[string]*alert.Alert     // alert ID -> alert
	live       map[string]string           // fingerprint -> live alert ID
	attempts   map[string][]*alert.Attempt // alert ID -> attempts in creation order
	attemptIdx map[string]*alert.Attempt   // attempt ID -> attempt
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts:     make(map[string]*alert.Alert),
		live:       make(map[string]string),
		attempts:   make(map[string][]*alert.Attempt),
		attemptIdx: make(map[string]*alert.Attempt),
	}
}

// Get retrieves an alert by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

// GetLiveByFingerprint retrieves the non-terminal alert for a
// fingerprint. Returns a copy.
func (s *Store) GetLiveByFingerprint(_ context.Context, fp string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.live[fp]
	if !ok {
		return nil, false, nil
	}
	a := s.alerts[id]
	if a.State.Terminal() {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

// Put stores a copy of the alert and maintains the live-fingerprint index.
func (s *Store) Put(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a.Clone()
	s.alerts[a.ID] = cp
	if a.State.Terminal() {
		if s.live[a.Fingerprint] == a.ID {
			delete(s.live, a.Fingerprint)
		}
	} else {
		s.live[a.Fingerprint] = a.ID
	}
	return nil
}

// List returns matching alerts, newest first.
func (s *Store) List(_ context.Context, f store.Filter) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alert.Alert
	for _, a := range s.alerts {
		if f.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Live returns all non-terminal alerts.
func (s *Store) Live(_ context.Context) ([]*alert.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*alert.Alert
	for _, id := range s.live {
		out = append(out, s.alerts[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PutAttempt inserts or replaces an attempt by ID.
func (s *Store) PutAttempt(_ context.Context, at *alert.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *at
	if existing, ok := s.attemptIdx[at.ID]; ok {
		*existing = cp
		return nil
	}
	p := &cp
	s.attemptIdx[at.ID] = p
	s.attempts[at.AlertID] = append(s.attempts[at.AlertID], p)
	return nil
}

// ListAttempts returns copies of all attempts for an alert in creation order.
func (s *Store) ListAttempts(_ context.Context, alertID string) ([]*alert.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.attempts[alertID]
	out := make([]*alert.Attempt, 0, len(list))
	for _, at := range list {
		cp := *at
		out = append(out, &cp)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
