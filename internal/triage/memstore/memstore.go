// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/traceback/internal/triage"
)

// Store holds triage results in memory. Results are lost on restart.
type Store struct {
	mu      sync.RWMutex
	results map[string]*triage.Result // triage ID -> result
	latest  map[string]string         // question fingerprint -> newest triage ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		results: make(map[string]*triage.Result),
		latest:  make(map[string]string),
	}
}

// Get retrieves a triage result by its ID. Returns a deep copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

// GetByFingerprint retrieves the most recently created result for a
// question fingerprint. Returns a deep copy.
func (s *Store) GetByFingerprint(_ context.Context, fp string) (*triage.Result, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.latest[fp]
	if !ok {
		return nil, false, nil
	}
	return s.results[id].Clone(), true, nil
}

// Put stores a deep copy of the triage result.
func (s *Store) Put(_ context.Context, r *triage.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.results[r.ID]; ok && prev.Fingerprint != r.Fingerprint && s.latest[prev.Fingerprint] == r.ID {
		delete(s.latest, prev.Fingerprint)
	}
	s.results[r.ID] = r.Clone()

	if cur, ok := s.latest[r.Fingerprint]; ok && cur != r.ID {
		if s.results[cur].CreatedAt.After(r.CreatedAt) {
			return nil
		}
	}
	s.latest[r.Fingerprint] = r.ID
	return nil
}

// Len returns the number of stored results.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
