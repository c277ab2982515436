package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scrapline/bulkmatch/internal/core/domain"
	"github.com/scrapline/bulkmatch/internal/core/geo"
	"github.com/scrapline/bulkmatch/internal/port"
)

var (
	ErrValidation    = errors.New("invalid request parameters")
	ErrOwnerNotFound = errors.New("owner not found")
)

const notifyTimeout = 5 * time.Second

// Matching orchestrates request creation with its notification fan-out and
// the viewer-facing listings. Accept/reject/cancel are delegated to the
// fulfillment coordinator, followed by a best-effort owner notification.
type Matching struct {
	store       port.RequestStore
	candidates  port.CandidateSource
	locations   port.LocationResolver
	dedupe      port.Deduper
	notifier    port.Notifier
	fulfillment *Fulfillment
}

func NewMatching(store port.RequestStore, candidates port.CandidateSource, locations port.LocationResolver, dedupe port.Deduper, notifier port.Notifier, fulfillment *Fulfillment) *Matching {
	return &Matching{
		store:       store,
		candidates:  candidates,
		locations:   locations,
		dedupe:      dedupe,
		notifier:    notifier,
		fulfillment: fulfillment,
	}
}

type CreateParams struct {
	OwnerID       string
	OwnerRole     domain.Role
	Location      *domain.Point
	ScrapType     string
	Subcategories []string
	Quantity      float64
	AskingPrice   float64
	RadiusKm      float64
	Attachments   []string
}

type CreateResult struct {
	Request       *domain.BulkRequest
	NotifiedCount int
}

// CreateRequest validates and persists a new bulk request, then matches the
// live candidate population and fans out notifications. Fan-out is fire and
// forget: a notification failure never fails the creation.
func (m *Matching) CreateRequest(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if p.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrValidation)
	}
	if p.Quantity <= 0 || math.IsNaN(p.Quantity) || math.IsInf(p.Quantity, 0) {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	audience, ok := domain.AudienceFor(p.OwnerRole)
	if !ok {
		return nil, fmt.Errorf("%w: role %q cannot create bulk requests", ErrValidation, p.OwnerRole)
	}

	origin, err := m.resolveOrigin(ctx, p)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	req := &domain.BulkRequest{
		ID:                uuid.New().String(),
		OwnerID:           p.OwnerID,
		Audience:          audience,
		Location:          origin,
		ScrapType:         p.ScrapType,
		Subcategories:     p.Subcategories,
		RequestedQuantity: p.Quantity,
		AskingPrice:       p.AskingPrice,
		RadiusKm:          domain.ClampRadius(p.RadiusKm),
		Attachments:       p.Attachments,
		Status:            domain.StatusActive,
		Version:           0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := m.store.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("persist request: %w", err)
	}

	matched := m.matchCandidates(ctx, req)
	m.fanOut(req, matched)

	return &CreateResult{Request: req, NotifiedCount: len(matched)}, nil
}

func (m *Matching) resolveOrigin(ctx context.Context, p CreateParams) (domain.Point, error) {
	if p.Location != nil {
		if !p.Location.Valid() {
			return domain.Point{}, fmt.Errorf("%w: non-finite coordinates", ErrValidation)
		}
		return *p.Location, nil
	}
	origin, err := m.locations.Resolve(ctx, p.OwnerID)
	if err != nil {
		return domain.Point{}, fmt.Errorf("%w: %v", ErrOwnerNotFound, err)
	}
	return origin, nil
}

func (m *Matching) matchCandidates(ctx context.Context, req *domain.BulkRequest) []domain.MatchedCandidate {
	population, err := m.candidates.Near(ctx, req.Audience, req.Location, req.RadiusKm)
	if err != nil {
		log.Printf("candidate lookup failed for request %s: %v", req.ID, err)
		return nil
	}
	exclude := map[string]struct{}{req.OwnerID: {}}
	return geo.Match(req.Location, req.RadiusKm, req.Audience, exclude, population)
}

func (m *Matching) fanOut(req *domain.BulkRequest, matched []domain.MatchedCandidate) {
	if len(matched) == 0 {
		return
	}
	audience := make([]string, 0, len(matched))
	for _, c := range matched {
		audience = append(audience, c.ParticipantID)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if m.dedupe != nil {
			first, err := m.dedupe.Once(ctx, "fanout:"+req.ID)
			if err != nil {
				log.Printf("fan-out dedupe check failed for request %s: %v", req.ID, err)
			} else if !first {
				return
			}
		}

		err := m.notifier.Notify(ctx, audience, "New bulk request nearby",
			fmt.Sprintf("%.0f kg of %s requested within %.0f km", req.RequestedQuantity, req.ScrapType, req.RadiusKm),
			map[string]string{"request_id": req.ID, "scrap_type": req.ScrapType})
		if err != nil {
			log.Printf("fan-out failed for request %s: %v", req.ID, err)
		}
	}()
}

// VisibleRequest annotates a request with the viewer's distance to it.
// DistanceKm is nil when the viewer has no known location.
type VisibleRequest struct {
	Request    *domain.BulkRequest
	DistanceKm *float64
}

// ListForViewer returns the active requests targeting the viewer's role,
// within each request's own radius, nearest first. Requests with unknown
// distance sort last in stored order.
func (m *Matching) ListForViewer(ctx context.Context, viewerID string, viewerRole domain.Role, viewerLocation *domain.Point) ([]VisibleRequest, error) {
	reqs, err := m.store.ListVisibleTo(ctx, viewerRole, viewerID)
	if err != nil {
		return nil, err
	}

	out := make([]VisibleRequest, 0, len(reqs))
	for _, req := range reqs {
		if viewerLocation == nil || !viewerLocation.Valid() {
			out = append(out, VisibleRequest{Request: req})
			continue
		}
		d := geo.Distance(*viewerLocation, req.Location)
		if d > req.RadiusKm {
			continue
		}
		dist := d
		out = append(out, VisibleRequest{Request: req, DistanceKm: &dist})
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].DistanceKm, out[j].DistanceKm
		if di == nil {
			return false
		}
		if dj == nil {
			return true
		}
		return *di < *dj
	})
	return out, nil
}

func (m *Matching) ListOwned(ctx context.Context, ownerID string) ([]*domain.BulkRequest, error) {
	return m.store.ListByOwner(ctx, ownerID)
}

func (m *Matching) ListAccepted(ctx context.Context, counterpartyID string) ([]*domain.BulkRequest, error) {
	return m.store.ListAcceptedBy(ctx, counterpartyID)
}

func (m *Matching) RegisterCandidate(ctx context.Context, c domain.Candidate) error {
	if c.ID == "" || c.ParticipantID == "" {
		return fmt.Errorf("%w: candidate id and participant id are required", ErrValidation)
	}
	if _, ok := domain.AudienceFor(c.Role); !ok && c.Role != domain.RoleAgent {
		return fmt.Errorf("%w: unknown role %q", ErrValidation, c.Role)
	}
	if !c.Location.Valid() {
		return fmt.Errorf("%w: non-finite coordinates", ErrValidation)
	}
	return m.candidates.Register(ctx, c)
}

// Accept records a commitment and then notifies the request owner. The
// notification is best effort and never rolls back the commitment.
func (m *Matching) Accept(ctx context.Context, p AcceptParams) (*domain.BulkRequest, error) {
	req, err := m.fulfillment.Accept(ctx, p)
	if err != nil {
		return nil, err
	}
	m.notifyOwner(req, "Commitment received",
		fmt.Sprintf("%.0f of %.0f kg now committed", req.TotalCommitted, req.RequestedQuantity))
	return req, nil
}

func (m *Matching) Reject(ctx context.Context, requestID, counterpartyID, reason string) (*domain.BulkRequest, error) {
	req, err := m.fulfillment.Reject(ctx, requestID, counterpartyID, reason)
	if err != nil {
		return nil, err
	}
	m.notifyOwner(req, "Request declined", "A counterparty declined your bulk request")
	return req, nil
}

func (m *Matching) Cancel(ctx context.Context, requestID, ownerID string) (*domain.BulkRequest, error) {
	return m.fulfillment.Cancel(ctx, requestID, ownerID)
}

func (m *Matching) notifyOwner(req *domain.BulkRequest, title, body string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		err := m.notifier.Notify(ctx, []string{req.OwnerID}, title, body,
			map[string]string{"request_id": req.ID, "status": string(req.Status)})
		if err != nil {
			log.Printf("owner notification failed for request %s: %v", req.ID, err)
		}
	}()
}
