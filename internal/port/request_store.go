package port

import (
	"context"
	"errors"

	"github.com/scrapline/bulkmatch/internal/core/domain"
)

var (
	ErrNotFound        = errors.New("request not found")
	ErrAlreadyExists   = errors.New("request already exists")
	ErrVersionConflict = errors.New("version conflict")
)

type RequestStore interface {
	// Create persists a new aggregate, put-if-absent on its id.
	// Returns ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, req *domain.BulkRequest) error

	// GetByID returns the current aggregate or ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.BulkRequest, error)

	// ListVisibleTo returns active requests whose audience is viewerRole,
	// excluding those owned by the viewer. Distance filtering against each
	// request's own radius happens in the service layer.
	ListVisibleTo(ctx context.Context, viewerRole domain.Role, viewerID string) ([]*domain.BulkRequest, error)

	// ListByOwner returns all of an owner's requests regardless of status,
	// newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.BulkRequest, error)

	// ListAcceptedBy returns all requests carrying a commitment from the
	// counterparty, newest first.
	ListAcceptedBy(ctx context.Context, counterpartyID string) ([]*domain.BulkRequest, error)

	// CompareAndSwap persists the mutable fields of updated iff the stored
	// version still equals expectedVersion, bumping the stored version by
	// one. Returns ErrVersionConflict without side effects on a stale
	// version. On success updated.Version is set to expectedVersion+1.
	CompareAndSwap(ctx context.Context, updated *domain.BulkRequest, expectedVersion int64) error
}
