// Package memstore provides an in-memory implementation of ticket.Store.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/priorityops/internal/ticket"
)

// Store holds tickets in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	tickets map[string]*ticket.Ticket // ticket ID -> ticket
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		tickets: make(map[string]*ticket.Ticket),
	}
}

// Get retrieves a ticket by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*ticket.Ticket, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

// Create stores a copy of the ticket, assigning an ID and timestamps when unset.
// The assigned values are written back to t.
func (s *Store) Create(_ context.Context, t *ticket.Ticket) error {
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Status == "" {
		t.Status = ticket.StatusPending
	}
	t.Tags = ticket.NormalizeTags(t.Tags)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t.Clone()
	return nil
}

// Update applies m and appends entry under the write lock, so the check of
// ExpectStatus and the write are atomic.
func (s *Store) Update(_ context.Context, id string, m *ticket.Mutation, entry ticket.AuditEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || !m.Matches(t.Status) {
		return 0, nil
	}
	m.ApplyTo(t, entry)
	return 1, nil
}

// Delete removes the ticket with the given ID.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[id]; !ok {
		return false, nil
	}
	delete(s.tickets, id)
	return true, nil
}

// Find returns copies of all tickets matching f, oldest update first.
func (s *Store) Find(_ context.Context, f ticket.Filter) ([]*ticket.Ticket, error) {
	s.mu.RLock()
	out := make([]*ticket.Ticket, 0)
	for _, t := range s.tickets {
		if f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *ticket.Ticket) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
