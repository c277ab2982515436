package port

import (
	"context"

	"github.com/scrapline/bulkmatch/internal/core/domain"
)

type CandidateSource interface {
	// Register upserts a candidate location into the match population.
	Register(ctx context.Context, c domain.Candidate) error

	// Near returns candidates of the given role within radiusKm of origin.
	// The result is a coarse pre-filter; exact distance, exclusion and
	// dedupe rules are applied by the geo matcher.
	Near(ctx context.Context, role domain.Role, origin domain.Point, radiusKm float64) ([]domain.Candidate, error)
}

type LocationResolver interface {
	// Resolve returns a participant's registered place.
	Resolve(ctx context.Context, participantID string) (domain.Point, error)
}
