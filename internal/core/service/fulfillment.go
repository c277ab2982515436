package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/scrapline/bulkmatch/internal/core/domain"
	"github.com/scrapline/bulkmatch/internal/port"
)

var (
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrPermissionDenied = errors.New("caller role does not match request audience")
	ErrRequestInactive  = errors.New("request is no longer active")
	ErrAlreadyCommitted = errors.New("counterparty already committed")
	ErrNotOwner         = errors.New("caller does not own this request")
	ErrRetryExhausted   = errors.New("conflict retries exhausted")
)

const (
	maxRetries  = 5
	backoffBase = 20 * time.Millisecond
	backoffCap  = 200 * time.Millisecond
)

// Fulfillment applies accept/reject/cancel operations against a request's
// aggregate under contention. Callers run in independent processes with no
// shared memory, so every mutation is a fresh read, a recompute, and a
// version-gated conditional write; a stale write loses and is retried with
// jittered backoff up to maxRetries.
type Fulfillment struct {
	store port.RequestStore
}

func NewFulfillment(store port.RequestStore) *Fulfillment {
	return &Fulfillment{store: store}
}

type AcceptParams struct {
	RequestID          string
	CounterpartyID     string
	CounterpartyRoleID string
	CallerRole         domain.Role
	Quantity           float64
	BiddingPrice       float64
	Attachments        []string
}

// Accept records a counterparty's commitment. Terminal business outcomes
// (inactive request, duplicate counterparty, role mismatch) are returned
// immediately and never retried; only a lost compare-and-swap race retries.
func (f *Fulfillment) Accept(ctx context.Context, p AcceptParams) (*domain.BulkRequest, error) {
	if p.Quantity <= 0 || math.IsNaN(p.Quantity) || math.IsInf(p.Quantity, 0) {
		return nil, ErrInvalidQuantity
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := f.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		cur, err := f.store.GetByID(ctx, p.RequestID)
		if err != nil {
			return nil, err
		}
		if cur.Audience != p.CallerRole {
			return nil, ErrPermissionDenied
		}
		if !cur.Active() {
			return nil, ErrRequestInactive
		}
		if cur.HasCommitment(p.CounterpartyID) {
			return nil, ErrAlreadyCommitted
		}

		now := time.Now().UTC()
		next := cur.Clone()
		next.Commitments = append(next.Commitments, domain.Commitment{
			CounterpartyID:     p.CounterpartyID,
			CounterpartyRoleID: p.CounterpartyRoleID,
			Quantity:           p.Quantity,
			BiddingPrice:       p.BiddingPrice,
			Attachments:        append([]string(nil), p.Attachments...),
			CommittedAt:        now,
		})
		next.RecomputeTotal()
		if next.TotalCommitted >= next.RequestedQuantity {
			next.Status = domain.StatusFulfilled
		}
		next.UpdatedAt = now

		err = f.store.CompareAndSwap(ctx, next, cur.Version)
		if errors.Is(err, port.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit acceptance: %w", err)
		}
		return next, nil
	}

	return nil, ErrRetryExhausted
}

// Reject records that a counterparty declined the request. Rejections never
// touch commitments or status, and a repeated rejection is a no-op.
func (f *Fulfillment) Reject(ctx context.Context, requestID, counterpartyID, reason string) (*domain.BulkRequest, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := f.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		cur, err := f.store.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if cur.HasRejection(counterpartyID) {
			return cur, nil
		}

		now := time.Now().UTC()
		next := cur.Clone()
		next.Rejections = append(next.Rejections, domain.Rejection{
			CounterpartyID: counterpartyID,
			Reason:         reason,
			RejectedAt:     now,
		})
		next.UpdatedAt = now

		err = f.store.CompareAndSwap(ctx, next, cur.Version)
		if errors.Is(err, port.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit rejection: %w", err)
		}
		return next, nil
	}

	return nil, ErrRetryExhausted
}

// Cancel moves an active request to its cancelled terminal state. Owner
// only. A cancellation racing in-flight accepts wins as soon as its write
// commits; the accepts observe the terminal state on their next read.
func (f *Fulfillment) Cancel(ctx context.Context, requestID, ownerID string) (*domain.BulkRequest, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := f.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		cur, err := f.store.GetByID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if cur.OwnerID != ownerID {
			return nil, ErrNotOwner
		}
		if cur.Status == domain.StatusCancelled {
			return cur, nil
		}
		if !cur.Active() {
			return nil, ErrRequestInactive
		}

		next := cur.Clone()
		next.Status = domain.StatusCancelled
		next.UpdatedAt = time.Now().UTC()

		err = f.store.CompareAndSwap(ctx, next, cur.Version)
		if errors.Is(err, port.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("commit cancellation: %w", err)
		}
		return next, nil
	}

	return nil, ErrRetryExhausted
}

// backoff sleeps exponentially with jitter, capped per attempt, so bursts
// of simultaneous accepts on a popular request spread out instead of
// stampeding the store.
func (f *Fulfillment) backoff(ctx context.Context, attempt int) error {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	d = d/2 + rand.N(d/2+1)

	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
