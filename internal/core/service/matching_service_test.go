package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scrapline/bulkmatch/internal/core/domain"
	"github.com/scrapline/bulkmatch/internal/memstore"
)

type mockCandidateSource struct {
	mu         sync.Mutex
	candidates []domain.Candidate
	err        error
}

func (m *mockCandidateSource) Register(ctx context.Context, c domain.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c)
	return m.err
}

func (m *mockCandidateSource) Near(ctx context.Context, role domain.Role, origin domain.Point, radiusKm float64) ([]domain.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Candidate(nil), m.candidates...), m.err
}

type mockResolver struct {
	points map[string]domain.Point
}

func (m *mockResolver) Resolve(ctx context.Context, participantID string) (domain.Point, error) {
	p, ok := m.points[participantID]
	if !ok {
		return domain.Point{}, errors.New("unknown participant")
	}
	return p, nil
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

type notifyCall struct {
	audience []string
	title    string
}

func (m *mockNotifier) Notify(ctx context.Context, audience []string, title, body string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, notifyCall{audience: audience, title: title})
	return m.err
}

func (m *mockNotifier) waitForCall(t *testing.T) notifyCall {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		if len(m.calls) > 0 {
			call := m.calls[0]
			m.mu.Unlock()
			return call
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no notification observed")
	return notifyCall{}
}

type mockDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *mockDeduper) Once(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func newTestMatching(src *mockCandidateSource, notifier *mockNotifier) (*Matching, *memstore.Store) {
	store := memstore.New()
	resolver := &mockResolver{points: map[string]domain.Point{
		"owner-1": {Lat: 21.0285, Lng: 105.8542},
	}}
	return NewMatching(store, src, resolver, &mockDeduper{}, notifier, NewFulfillment(store)), store
}

func vendorAt(id, participant string, km float64) domain.Candidate {
	return domain.Candidate{
		ID:            id,
		ParticipantID: participant,
		Role:          domain.RoleVendor,
		Location:      domain.Point{Lat: 21.0285 + km/111.19, Lng: 105.8542},
	}
}

func TestCreateRequest_FanOut(t *testing.T) {
	src := &mockCandidateSource{candidates: []domain.Candidate{
		vendorAt("c1", "p1", 10),
		vendorAt("c2", "p2", 40),
		vendorAt("c3", "p3", 80), // outside radius
		vendorAt("c4", "owner-1", 5),
	}}
	notifier := &mockNotifier{}
	m, _ := newTestMatching(src, notifier)

	res, err := m.CreateRequest(context.Background(), CreateParams{
		OwnerID:   "owner-1",
		OwnerRole: domain.RoleSeller,
		ScrapType: "copper",
		Quantity:  1000,
		RadiusKm:  50,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if res.Request.Audience != domain.RoleVendor {
		t.Errorf("seller request must target vendors, got %s", res.Request.Audience)
	}
	if res.NotifiedCount != 2 {
		t.Errorf("expected 2 notified (in radius, not owner), got %d", res.NotifiedCount)
	}

	call := notifier.waitForCall(t)
	for _, id := range call.audience {
		if id == "owner-1" {
			t.Error("owner must never be in its own fan-out audience")
		}
	}
}

func TestCreateRequest_ResolvesOwnerLocation(t *testing.T) {
	m, _ := newTestMatching(&mockCandidateSource{}, &mockNotifier{})

	res, err := m.CreateRequest(context.Background(), CreateParams{
		OwnerID:   "owner-1",
		OwnerRole: domain.RoleVendor,
		Quantity:  500,
		RadiusKm:  20,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if res.Request.Location.Lat == 0 && res.Request.Location.Lng == 0 {
		t.Error("expected location resolved from owner's registered place")
	}
	if res.Request.Audience != domain.RoleSeller {
		t.Errorf("vendor request must target sellers, got %s", res.Request.Audience)
	}
}

func TestCreateRequest_UnknownOwner(t *testing.T) {
	m, _ := newTestMatching(&mockCandidateSource{}, &mockNotifier{})

	_, err := m.CreateRequest(context.Background(), CreateParams{
		OwnerID:   "ghost",
		OwnerRole: domain.RoleSeller,
		Quantity:  500,
	})
	if !errors.Is(err, ErrOwnerNotFound) {
		t.Errorf("expected ErrOwnerNotFound, got %v", err)
	}
}

func TestCreateRequest_Validation(t *testing.T) {
	m, _ := newTestMatching(&mockCandidateSource{}, &mockNotifier{})
	ctx := context.Background()

	cases := []CreateParams{
		{OwnerRole: domain.RoleSeller, Quantity: 100},            // no owner
		{OwnerID: "owner-1", OwnerRole: domain.RoleSeller},       // zero quantity
		{OwnerID: "owner-1", OwnerRole: domain.RoleSeller, Quantity: -3},
		{OwnerID: "owner-1", OwnerRole: domain.RoleAgent, Quantity: 100}, // agents cannot create
	}
	for i, p := range cases {
		if _, err := m.CreateRequest(ctx, p); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestCreateRequest_ClampsRadius(t *testing.T) {
	m, _ := newTestMatching(&mockCandidateSource{}, &mockNotifier{})

	res, err := m.CreateRequest(context.Background(), CreateParams{
		OwnerID:   "owner-1",
		OwnerRole: domain.RoleSeller,
		Quantity:  100,
		RadiusKm:  9000,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if res.Request.RadiusKm != domain.MaxRadiusKm {
		t.Errorf("expected radius clamped to %f, got %f", domain.MaxRadiusKm, res.Request.RadiusKm)
	}
}

// A broken notification pipeline must not fail request creation.
func TestCreateRequest_NotifierFailureSwallowed(t *testing.T) {
	src := &mockCandidateSource{candidates: []domain.Candidate{vendorAt("c1", "p1", 10)}}
	notifier := &mockNotifier{err: errors.New("push gateway down")}
	m, store := newTestMatching(src, notifier)

	res, err := m.CreateRequest(context.Background(), CreateParams{
		OwnerID:   "owner-1",
		OwnerRole: domain.RoleSeller,
		Quantity:  100,
		RadiusKm:  50,
	})
	if err != nil {
		t.Fatalf("creation must survive notifier failure: %v", err)
	}
	if _, err := store.GetByID(context.Background(), res.Request.ID); err != nil {
		t.Errorf("request must be persisted despite notifier failure: %v", err)
	}
}

func TestListForViewer_DistanceFilterAndOrder(t *testing.T) {
	m, store := newTestMatching(&mockCandidateSource{}, &mockNotifier{})
	ctx := context.Background()
	viewer := domain.Point{Lat: 21.0285, Lng: 105.8542}

	mk := func(id string, km, radius float64, created time.Time) *domain.BulkRequest {
		return &domain.BulkRequest{
			ID:                id,
			OwnerID:           "owner-" + id,
			Audience:          domain.RoleVendor,
			Location:          domain.Point{Lat: viewer.Lat + km/111.19, Lng: viewer.Lng},
			RequestedQuantity: 100,
			RadiusKm:          radius,
			Status:            domain.StatusActive,
			CreatedAt:         created,
			UpdatedAt:         created,
		}
	}
	now := time.Now().UTC()
	store.Create(ctx, mk("far-wide", 40, 50, now))
	store.Create(ctx, mk("near", 10, 50, now.Add(time.Second)))
	store.Create(ctx, mk("outside", 80, 50, now.Add(2*time.Second)))

	out, err := m.ListForViewer(ctx, "viewer-1", domain.RoleVendor, &viewer)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 visible requests, got %d", len(out))
	}
	if out[0].Request.ID != "near" || out[1].Request.ID != "far-wide" {
		t.Errorf("expected nearest first, got [%s %s]", out[0].Request.ID, out[1].Request.ID)
	}
	if out[0].DistanceKm == nil || *out[0].DistanceKm > 11 {
		t.Error("expected distance annotation on results")
	}
}

func TestListForViewer_ExcludesOwnAndWrongRole(t *testing.T) {
	m, store := newTestMatching(&mockCandidateSource{}, &mockNotifier{})
	ctx := context.Background()
	now := time.Now().UTC()

	store.Create(ctx, &domain.BulkRequest{
		ID: "own", OwnerID: "viewer-1", Audience: domain.RoleVendor,
		RequestedQuantity: 100, RadiusKm: 50, Status: domain.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	})
	store.Create(ctx, &domain.BulkRequest{
		ID: "for-sellers", OwnerID: "other", Audience: domain.RoleSeller,
		RequestedQuantity: 100, RadiusKm: 50, Status: domain.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	})

	out, err := m.ListForViewer(ctx, "viewer-1", domain.RoleVendor, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty list, got %d entries", len(out))
	}
}

func TestListForViewer_UnknownLocationIncludesAll(t *testing.T) {
	m, store := newTestMatching(&mockCandidateSource{}, &mockNotifier{})
	ctx := context.Background()
	now := time.Now().UTC()

	store.Create(ctx, &domain.BulkRequest{
		ID: "r1", OwnerID: "other", Audience: domain.RoleVendor,
		Location:          domain.Point{Lat: 21, Lng: 105},
		RequestedQuantity: 100, RadiusKm: 1, Status: domain.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	})

	out, err := m.ListForViewer(ctx, "viewer-1", domain.RoleVendor, nil)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(out) != 1 || out[0].DistanceKm != nil {
		t.Errorf("viewer without location gets undistanced results, got %v", out)
	}
}

func TestAccept_NotifiesOwner(t *testing.T) {
	notifier := &mockNotifier{}
	m, store := newTestMatching(&mockCandidateSource{}, notifier)
	ctx := context.Background()
	now := time.Now().UTC()

	store.Create(ctx, &domain.BulkRequest{
		ID: "req-1", OwnerID: "owner-1", Audience: domain.RoleVendor,
		RequestedQuantity: 1000, RadiusKm: 50, Status: domain.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	})

	req, err := m.Accept(ctx, AcceptParams{
		RequestID:      "req-1",
		CounterpartyID: "cp-1",
		CallerRole:     domain.RoleVendor,
		Quantity:       200,
	})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if req.TotalCommitted != 200 {
		t.Errorf("expected total 200, got %f", req.TotalCommitted)
	}

	call := notifier.waitForCall(t)
	if len(call.audience) != 1 || call.audience[0] != "owner-1" {
		t.Errorf("expected owner notified, got %v", call.audience)
	}
}

func TestRegisterCandidate_Validation(t *testing.T) {
	m, _ := newTestMatching(&mockCandidateSource{}, &mockNotifier{})
	ctx := context.Background()

	bad := []domain.Candidate{
		{ParticipantID: "p1", Role: domain.RoleVendor, Location: domain.Point{Lat: 1, Lng: 1}},
		{ID: "c1", Role: domain.RoleVendor, Location: domain.Point{Lat: 1, Lng: 1}},
		{ID: "c1", ParticipantID: "p1", Role: "pirate", Location: domain.Point{Lat: 1, Lng: 1}},
	}
	for i, c := range bad {
		if err := m.RegisterCandidate(ctx, c); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: expected ErrValidation, got %v", i, err)
		}
	}

	ok := domain.Candidate{ID: "c1", ParticipantID: "p1", Role: domain.RoleVendor, Location: domain.Point{Lat: 1, Lng: 1}}
	if err := m.RegisterCandidate(ctx, ok); err != nil {
		t.Errorf("valid candidate rejected: %v", err)
	}
}
