// Contention driver: races many counterparties against a single bulk
// request and checks that no commitment is lost and the running total
// stays exact. Runs fully in memory, no infrastructure required.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scrapline/bulkmatch/internal/core/domain"
	"github.com/scrapline/bulkmatch/internal/core/service"
	"github.com/scrapline/bulkmatch/internal/memstore"
)

const (
	requestID     = "contention-req"
	quantityKg    = 1000.0
	perCommitment = 30.0
	totalCallers  = 50
)

func main() {
	ctx := context.Background()
	store := memstore.New()

	now := time.Now().UTC()
	err := store.Create(ctx, &domain.BulkRequest{
		ID:                requestID,
		OwnerID:           "owner-1",
		Audience:          domain.RoleVendor,
		Location:          domain.Point{Lat: 21.0285, Lng: 105.8542},
		ScrapType:         "copper",
		RequestedQuantity: quantityKg,
		RadiusKm:          50,
		Status:            domain.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		log.Fatalf("failed to seed request: %v", err)
	}

	fulfillment := service.NewFulfillment(store)

	var successCount, inactiveCount, exhaustedCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalCallers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := fulfillment.Accept(ctx, service.AcceptParams{
				RequestID:      requestID,
				CounterpartyID: fmt.Sprintf("cp-%d", n),
				CallerRole:     domain.RoleVendor,
				Quantity:       perCommitment,
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, service.ErrRequestInactive):
				inactiveCount.Add(1)
			case errors.Is(err, service.ErrRetryExhausted):
				exhaustedCount.Add(1)
			default:
				log.Printf("caller %d: unexpected error: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := store.GetByID(ctx, requestID)
	if err != nil {
		log.Fatalf("failed to read final state: %v", err)
	}

	fmt.Println("========== CONTENTION RESULTS ==========")
	fmt.Printf("Requested:         %.0f kg\n", quantityKg)
	fmt.Printf("Callers:           %d x %.0f kg\n", totalCallers, perCommitment)
	fmt.Printf("Committed:         %d\n", successCount.Load())
	fmt.Printf("Saw inactive:      %d\n", inactiveCount.Load())
	fmt.Printf("Retries exhausted: %d\n", exhaustedCount.Load())
	fmt.Printf("Final total:       %.0f kg\n", final.TotalCommitted)
	fmt.Printf("Final status:      %s (version %d)\n", final.Status, final.Version)
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("========================================")

	expected := float64(successCount.Load()) * perCommitment
	if final.TotalCommitted == expected && len(final.Commitments) == int(successCount.Load()) {
		fmt.Println("PASS: total equals the exact sum of successful commitments")
	} else {
		fmt.Printf("FAIL: expected total %.0f over %d commitments, got %.0f over %d\n",
			expected, successCount.Load(), final.TotalCommitted, len(final.Commitments))
	}

	if final.TotalCommitted >= quantityKg && final.Status != domain.StatusFulfilled {
		fmt.Println("FAIL: request should be fulfilled once the total crosses the requested quantity")
	} else {
		fmt.Println("PASS: status consistent with committed total")
	}
}
