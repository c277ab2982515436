package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scrapline/bulkmatch/internal/core/domain"
)

const (
	candidateGeoPrefix  = "candidates:geo:"  // + role, GEO set of candidate ids
	candidateMetaPrefix = "candidates:meta:" // + candidate id, hash
	participantGeoKey   = "participants:geo" // GEO set of participant ids
	dedupeTTL           = 24 * time.Hour
)

// RedisCandidates keeps the live match population in Redis GEO sets, one per
// role, and doubles as the location resolver for registered participants
// and the fan-out dedupe gate.
type RedisCandidates struct {
	client *redis.Client
}

func NewRedisCandidates(client *redis.Client) *RedisCandidates {
	return &RedisCandidates{client: client}
}

func (r *RedisCandidates) Register(ctx context.Context, c domain.Candidate) error {
	geoKey := candidateGeoPrefix + string(c.Role)
	err := r.client.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      c.ID,
		Longitude: c.Location.Lng,
		Latitude:  c.Location.Lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("geoadd candidate: %w", err)
	}

	err = r.client.HSet(ctx, candidateMetaPrefix+c.ID,
		"participant_id", c.ParticipantID,
		"role", string(c.Role),
	).Err()
	if err != nil {
		return fmt.Errorf("store candidate meta: %w", err)
	}

	// The participant's registered place is the location of its most
	// recently registered candidate.
	err = r.client.GeoAdd(ctx, participantGeoKey, &redis.GeoLocation{
		Name:      c.ParticipantID,
		Longitude: c.Location.Lng,
		Latitude:  c.Location.Lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("geoadd participant: %w", err)
	}
	return nil
}

func (r *RedisCandidates) Near(ctx context.Context, role domain.Role, origin domain.Point, radiusKm float64) ([]domain.Candidate, error) {
	locations, err := r.client.GeoSearchLocation(ctx, candidateGeoPrefix+string(role), &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  origin.Lng,
			Latitude:   origin.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geosearch candidates: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(locations))
	for _, loc := range locations {
		participantID, err := r.client.HGet(ctx, candidateMetaPrefix+loc.Name, "participant_id").Result()
		if err == redis.Nil {
			continue // registration raced; geo entry without meta yet
		}
		if err != nil {
			return nil, fmt.Errorf("candidate meta lookup: %w", err)
		}
		candidates = append(candidates, domain.Candidate{
			ID:            loc.Name,
			ParticipantID: participantID,
			Role:          role,
			Location:      domain.Point{Lat: loc.Latitude, Lng: loc.Longitude},
		})
	}
	return candidates, nil
}

func (r *RedisCandidates) Resolve(ctx context.Context, participantID string) (domain.Point, error) {
	positions, err := r.client.GeoPos(ctx, participantGeoKey, participantID).Result()
	if err != nil {
		return domain.Point{}, fmt.Errorf("geopos participant: %w", err)
	}
	if len(positions) == 0 || positions[0] == nil {
		return domain.Point{}, fmt.Errorf("participant %s has no registered place", participantID)
	}
	return domain.Point{Lat: positions[0].Latitude, Lng: positions[0].Longitude}, nil
}

func (r *RedisCandidates) Once(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, key, 1, dedupeTTL).Result()
}
