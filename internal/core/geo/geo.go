// Package geo computes great-circle distances and filters the candidate
// population for a bulk request. Pure computation, no side effects.
package geo

import (
	"math"
	"sort"

	"github.com/scrapline/bulkmatch/internal/core/domain"
)

const earthRadiusKm = 6371.0

// Distance returns the haversine distance in kilometers between two points.
func Distance(a, b domain.Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Match filters candidates down to those within radiusKm of origin that
// carry the wanted role and do not belong to an excluded participant.
// Candidates with non-finite coordinates are dropped rather than raised.
// The result holds one entry per candidate id (nearest wins) and is sorted
// by distance ascending, ties broken by id.
func Match(origin domain.Point, radiusKm float64, role domain.Role, exclude map[string]struct{}, candidates []domain.Candidate) []domain.MatchedCandidate {
	if !origin.Valid() {
		return nil
	}

	nearest := make(map[string]domain.MatchedCandidate)
	for _, c := range candidates {
		if !c.Location.Valid() {
			continue
		}
		if c.Role != role {
			continue
		}
		if _, excluded := exclude[c.ParticipantID]; excluded {
			continue
		}
		d := Distance(origin, c.Location)
		if d > radiusKm {
			continue
		}
		if prev, seen := nearest[c.ID]; seen && prev.DistanceKm <= d {
			continue
		}
		nearest[c.ID] = domain.MatchedCandidate{Candidate: c, DistanceKm: d}
	}

	matched := make([]domain.MatchedCandidate, 0, len(nearest))
	for _, m := range nearest {
		matched = append(matched, m)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DistanceKm != matched[j].DistanceKm {
			return matched[i].DistanceKm < matched[j].DistanceKm
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}
