package domain

import (
	"math"
	"time"
)

type RequestStatus string

const (
	StatusActive    RequestStatus = "active"
	StatusFulfilled RequestStatus = "fulfilled"
	StatusCancelled RequestStatus = "cancelled"
)

// MaxRadiusKm bounds the visibility radius of any request.
const MaxRadiusKm = 3000.0

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both coordinates are finite numbers.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) &&
		!math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}

// Commitment is a counterparty's pledge of a partial quantity against a
// bulk request. At most one commitment per counterparty per request.
type Commitment struct {
	CounterpartyID     string    `json:"counterparty_id"`
	CounterpartyRoleID string    `json:"counterparty_role_id"`
	Quantity           float64   `json:"quantity"`
	BiddingPrice       float64   `json:"bidding_price,omitempty"`
	Attachments        []string  `json:"attachments,omitempty"`
	CommittedAt        time.Time `json:"committed_at"`
}

type Rejection struct {
	CounterpartyID string    `json:"counterparty_id"`
	Reason         string    `json:"reason,omitempty"`
	RejectedAt     time.Time `json:"rejected_at"`
}

// BulkRequest is the aggregate root coordinating partial commitments from
// independent counterparties. All mutation goes through a version-gated
// conditional write; the struct itself is never shared across callers.
type BulkRequest struct {
	ID                string        `json:"id"`
	OwnerID           string        `json:"owner_id"`
	Audience          Role          `json:"audience"`
	Location          Point         `json:"location"`
	ScrapType         string        `json:"scrap_type,omitempty"`
	Subcategories     []string      `json:"subcategories,omitempty"`
	RequestedQuantity float64       `json:"requested_quantity"`
	AskingPrice       float64       `json:"asking_price,omitempty"`
	RadiusKm          float64       `json:"radius_km"`
	Attachments       []string      `json:"attachments,omitempty"`
	Commitments       []Commitment  `json:"commitments"`
	Rejections        []Rejection   `json:"rejections"`
	TotalCommitted    float64       `json:"total_committed"`
	Status            RequestStatus `json:"status"`
	Version           int64         `json:"version"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (r *BulkRequest) Active() bool {
	return r.Status == StatusActive
}

func (r *BulkRequest) HasCommitment(counterpartyID string) bool {
	for _, c := range r.Commitments {
		if c.CounterpartyID == counterpartyID {
			return true
		}
	}
	return false
}

func (r *BulkRequest) HasRejection(counterpartyID string) bool {
	for _, rej := range r.Rejections {
		if rej.CounterpartyID == counterpartyID {
			return true
		}
	}
	return false
}

// RecomputeTotal derives the committed total from scratch. The total is
// never incremented in place, so it cannot drift from the commitment list.
func (r *BulkRequest) RecomputeTotal() {
	var total float64
	for _, c := range r.Commitments {
		total += c.Quantity
	}
	r.TotalCommitted = total
}

// Clone returns a deep copy safe to mutate without touching the original.
func (r *BulkRequest) Clone() *BulkRequest {
	cp := *r
	cp.Subcategories = append([]string(nil), r.Subcategories...)
	cp.Attachments = append([]string(nil), r.Attachments...)
	cp.Commitments = append([]Commitment(nil), r.Commitments...)
	cp.Rejections = append([]Rejection(nil), r.Rejections...)
	for i, c := range r.Commitments {
		cp.Commitments[i].Attachments = append([]string(nil), c.Attachments...)
	}
	return &cp
}

// ClampRadius bounds a requested radius to [0, MaxRadiusKm].
func ClampRadius(radiusKm float64) float64 {
	if math.IsNaN(radiusKm) || radiusKm < 0 {
		return 0
	}
	if radiusKm > MaxRadiusKm {
		return MaxRadiusKm
	}
	return radiusKm
}
