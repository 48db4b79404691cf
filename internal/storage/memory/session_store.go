// Package memory provides in-memory persistence for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/Nacnud88/markschecker3/internal/search"
)

// SessionStore keeps sessions and their product records in process memory.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]search.SessionState
	products map[string][]search.ProductRecord
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]search.SessionState),
		products: make(map[string][]search.ProductRecord),
	}
}

// CreateSession stores session state, replacing any existing entry.
func (s *SessionStore) CreateSession(_ context.Context, state search.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.ID] = state
	s.products[state.ID] = nil
	return nil
}

// GetSession returns the stored state for a session.
func (s *SessionStore) GetSession(_ context.Context, id string) (search.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return search.SessionState{}, search.ErrSessionNotFound
	}
	return state, nil
}

// UpdateProgress applies the non-nil fields of the update.
func (s *SessionStore) UpdateProgress(_ context.Context, id string, upd search.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[id]
	if !ok {
		return search.ErrSessionNotFound
	}
	if upd.ProcessedTerms != nil {
		state.ProcessedTerms = *upd.ProcessedTerms
	}
	if upd.TotalProducts != nil {
		state.TotalProducts = *upd.TotalProducts
	}
	if upd.Status != nil {
		state.Status = *upd.Status
	}
	s.sessions[id] = state
	return nil
}

// AppendProducts adds records to a session's accumulated results.
func (s *SessionStore) AppendProducts(_ context.Context, id string, records []search.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return search.ErrSessionNotFound
	}
	s.products[id] = append(s.products[id], records...)
	return nil
}

// ListProducts returns a copy of the session's accumulated records.
func (s *SessionStore) ListProducts(_ context.Context, id string) ([]search.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[id]; !ok {
		return nil, search.ErrSessionNotFound
	}
	return append([]search.ProductRecord(nil), s.products[id]...), nil
}

// DeleteSession removes the session and its records.
func (s *SessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return search.ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.products, id)
	return nil
}
