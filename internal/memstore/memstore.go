// Package memstore is an in-memory RequestStore with the same version-gated
// write contract as the durable adapter. Used by unit tests and the
// contention driver; not meant for production.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/scrapline/bulkmatch/internal/core/domain"
	"github.com/scrapline/bulkmatch/internal/port"
)

type Store struct {
	mu       sync.Mutex
	requests map[string]*domain.BulkRequest
}

func New() *Store {
	return &Store{requests: make(map[string]*domain.BulkRequest)}
}

func (s *Store) Create(ctx context.Context, req *domain.BulkRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; ok {
		return port.ErrAlreadyExists
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.BulkRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *Store) ListVisibleTo(ctx context.Context, viewerRole domain.Role, viewerID string) ([]*domain.BulkRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.BulkRequest
	for _, req := range s.requests {
		if req.Status != domain.StatusActive || req.Audience != viewerRole || req.OwnerID == viewerID {
			continue
		}
		out = append(out, req.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*domain.BulkRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.BulkRequest
	for _, req := range s.requests {
		if req.OwnerID == ownerID {
			out = append(out, req.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) ListAcceptedBy(ctx context.Context, counterpartyID string) ([]*domain.BulkRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.BulkRequest
	for _, req := range s.requests {
		if req.HasCommitment(counterpartyID) {
			out = append(out, req.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, updated *domain.BulkRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.requests[updated.ID]
	if !ok {
		return port.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return port.ErrVersionConflict
	}
	next := updated.Clone()
	next.Version = expectedVersion + 1
	s.requests[updated.ID] = next
	updated.Version = next.Version
	return nil
}

func sortNewestFirst(reqs []*domain.BulkRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
}
