/*
Package ledger is the single mutation path for hours balances.

PURPOSE:
  Every change to a student's hours_remaining flows through this
  service: reservation decrements, cancellation refunds, and purchase
  grants. Callers never read-modify-write the counter; each call maps
  to one atomic arithmetic update on the user row, so concurrent
  reservations and cancellations cannot lose updates.

CRITICAL INVARIANTS:
  1. hours_remaining never goes negative: Decrement fails with
     ErrInsufficientHours instead of committing a negative balance.
  2. No other code path mutates the counter. Presentation code reads
     balances; it never writes them.

The service sequences a single user row per call; it does not order
operations across different users.
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/drivehub/school-engine/school"
)

// Store is the subset of the ledger store the service needs.
type Store interface {
	IncrementHours(ctx context.Context, schoolID, userID string, n int) error
	DecrementHours(ctx context.Context, schoolID, userID string, n int) error
	GetUser(ctx context.Context, schoolID, userID string) (*school.User, error)
}

// HoursLedger owns the hours_remaining counter.
type HoursLedger struct {
	store Store
}

func New(store Store) *HoursLedger {
	return &HoursLedger{store: store}
}

// Decrement atomically subtracts n hours from the user's balance.
// Fails with ErrInsufficientHours if the result would be negative.
func (l *HoursLedger) Decrement(ctx context.Context, schoolID, userID string, n int) error {
	if n <= 0 {
		return fmt.Errorf("decrement amount must be positive, got %d", n)
	}
	return l.store.DecrementHours(ctx, schoolID, userID, n)
}

// Increment atomically credits n hours. Refunds and purchase grants
// both land here, with different callers and amounts.
func (l *HoursLedger) Increment(ctx context.Context, schoolID, userID string, n int) error {
	if n <= 0 {
		return fmt.Errorf("increment amount must be positive, got %d", n)
	}
	return l.store.IncrementHours(ctx, schoolID, userID, n)
}

// Balance reads the user's current hours_remaining.
func (l *HoursLedger) Balance(ctx context.Context, schoolID, userID string) (int, error) {
	u, err := l.store.GetUser(ctx, schoolID, userID)
	if err != nil {
		return 0, err
	}
	return u.HoursRemaining, nil
}
