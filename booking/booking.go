/*
Package booking implements the slot lifecycle manager.

PURPOSE:
  Owns every slot state transition: creation by instructors,
  reservation and cancellation, the write-once instructor debrief, and
  the periodic passed-slot sweep.

STATE MACHINE:
  open --reserve--> reserved --(time elapses, sweep)--> completed
  reserved --cancel--> open (student refunded one hour)
  open --cancel(by instructor)--> deleted
  completed is terminal.

AUTHORIZATION:
  Every operation takes an explicit school.Actor and checks role and
  tenant membership first, failing closed with ErrUnauthorized. There
  is no ambient auth state.

ATOMICITY:
  Reserve and cancel pair the slot flag change with the hours delta in
  a single store transaction. No caller can observe a reserved slot
  without the matching decrement, or a released slot without the
  refund.

SEE ALSO:
  - store/sqlite: The atomic procedures this package drives
  - ledger: Standalone hours mutations (grants, refunds)
*/
package booking

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drivehub/school-engine/school"
)

// Store is the slot-facing subset of the ledger store.
type Store interface {
	SaveSlot(ctx context.Context, sl school.Slot) error
	GetSlot(ctx context.Context, schoolID, id string) (*school.Slot, error)
	DeleteSlot(ctx context.Context, schoolID, id string) error
	ReserveSlot(ctx context.Context, schoolID, slotID, studentID string) error
	ReleaseSlot(ctx context.Context, schoolID, slotID string) (string, error)
	SetSlotComment(ctx context.Context, schoolID, slotID, comment string) error
	MarkSlotsPassed(ctx context.Context, now time.Time) ([]school.SweptSlot, error)
}

// Notifier receives domain events after committed mutations.
type Notifier interface {
	Publish(ev school.Event)
}

// Manager owns slot lifecycle transitions.
type Manager struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(store Store, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewSlot describes a slot to create.
type NewSlot struct {
	StartsAt     time.Time
	Vehicle      string
	Transmission school.Transmission
}

// CreateSlot opens a new bookable slot owned by the acting instructor.
// The start must be strictly in the future; the end time is derived as
// start plus one hour. No ledger side effects.
func (m *Manager) CreateSlot(ctx context.Context, actor school.Actor, ns NewSlot) (*school.Slot, error) {
	if !actor.Is(school.RoleInstructor) {
		return nil, &school.UnauthorizedError{Actor: actor, Reason: "only instructors create slots"}
	}
	if ns.StartsAt.IsZero() || !ns.StartsAt.After(m.now()) {
		return nil, school.ErrInvalidSchedule
	}

	sl := school.Slot{
		ID:           uuid.NewString(),
		SchoolID:     actor.SchoolID,
		InstructorID: actor.UserID,
		StartsAt:     ns.StartsAt.UTC(),
		EndsAt:       ns.StartsAt.UTC().Add(school.SlotDuration),
		Vehicle:      ns.Vehicle,
		Transmission: ns.Transmission,
	}

	if err := m.store.SaveSlot(ctx, sl); err != nil {
		return nil, err
	}

	m.notifier.Publish(school.Event{
		Type:     school.EventSlotCreated,
		SchoolID: sl.SchoolID,
		SlotID:   sl.ID,
		UserID:   sl.InstructorID,
	})
	return &sl, nil
}

// ReserveSlot books a slot for the acting student and decrements their
// balance by one, as a single unit of work. Fails with
// ErrSlotAlreadyReserved or ErrInsufficientHours; on failure the slot
// stays open and the balance is untouched.
func (m *Manager) ReserveSlot(ctx context.Context, actor school.Actor, slotID string) error {
	if !actor.Is(school.RoleStudent) {
		return &school.UnauthorizedError{Actor: actor, Reason: "only students reserve slots"}
	}

	if err := m.store.ReserveSlot(ctx, actor.SchoolID, slotID, actor.UserID); err != nil {
		return err
	}

	m.notifier.Publish(school.Event{
		Type:     school.EventSlotReserved,
		SchoolID: actor.SchoolID,
		SlotID:   slotID,
		UserID:   actor.UserID,
	})
	return nil
}

// CancelSlot is role-gated:
//   - an instructor cancelling an unreserved future slot deletes it
//   - the assigned student, or any instructor or admin of the school,
//     cancelling a reserved slot releases it and refunds the student
//
// A slot whose Passed flag is set can no longer be cancelled.
func (m *Manager) CancelSlot(ctx context.Context, actor school.Actor, slotID string) error {
	sl, err := m.store.GetSlot(ctx, actor.SchoolID, slotID)
	if err != nil {
		return err
	}
	if sl.Passed {
		return school.ErrSlotAlreadyCompleted
	}

	if !sl.Reserved {
		if !actor.Is(school.RoleInstructor, school.RoleAdmin) {
			return &school.UnauthorizedError{Actor: actor, Reason: "only instructors delete open slots"}
		}
		if err := m.store.DeleteSlot(ctx, actor.SchoolID, slotID); err != nil {
			return err
		}
		m.notifier.Publish(school.Event{
			Type:     school.EventSlotCancelled,
			SchoolID: actor.SchoolID,
			SlotID:   slotID,
			UserID:   actor.UserID,
		})
		return nil
	}

	allowed := actor.Is(school.RoleInstructor, school.RoleAdmin) ||
		(actor.Is(school.RoleStudent) && actor.UserID == sl.StudentID)
	if !allowed {
		return &school.UnauthorizedError{Actor: actor, Reason: "slot reserved by another student"}
	}

	studentID, err := m.store.ReleaseSlot(ctx, actor.SchoolID, slotID)
	if err != nil {
		return err
	}

	m.notifier.Publish(school.Event{
		Type:     school.EventSlotCancelled,
		SchoolID: actor.SchoolID,
		SlotID:   slotID,
		UserID:   studentID,
	})
	return nil
}

// RecordComment stores the instructor debrief on a completed slot.
// Write-once: commenting a slot that already carries one fails with
// ErrCommentExists instead of silently overwriting.
func (m *Manager) RecordComment(ctx context.Context, actor school.Actor, slotID, comment string) error {
	if !actor.Is(school.RoleInstructor) {
		return &school.UnauthorizedError{Actor: actor, Reason: "only instructors record debriefs"}
	}
	return m.store.SetSlotComment(ctx, actor.SchoolID, slotID, strings.TrimSpace(comment))
}

// Sweep flips every reserved slot whose end time elapsed before now to
// completed, across all schools. Idempotent and free of ledger side
// effects; safe to run concurrently with reservations and cancellations
// because it only ever moves slots toward Passed=true and never touches
// the assigned student.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	swept, err := m.store.MarkSlotsPassed(ctx, now)
	if err != nil {
		return 0, err
	}

	for _, sw := range swept {
		m.notifier.Publish(school.Event{
			Type:     school.EventSlotSwept,
			SchoolID: sw.SchoolID,
			SlotID:   sw.ID,
		})
	}
	return len(swept), nil
}
