package school

import "time"

// Domain events published after committed mutations. The presentation
// layer subscribes to invalidate its cached views; the core never
// depends on a subscriber being present.

type EventType string

const (
	EventSlotCreated       EventType = "slot.created"
	EventSlotReserved      EventType = "slot.reserved"
	EventSlotCancelled     EventType = "slot.cancelled"
	EventSlotSwept         EventType = "slot.swept"
	EventPaymentReconciled EventType = "payment.reconciled"
)

// SweptSlot identifies a slot flipped to passed by a sweep.
type SweptSlot struct {
	ID       string
	SchoolID string
}

// Event is a row-change notification. SlotID/UserID identify the rows a
// subscriber should refetch; payload data stays out on purpose so stale
// events cannot deliver stale state.
type Event struct {
	Type       EventType
	SchoolID   string
	SlotID     string
	UserID     string
	PaymentID  string
	OccurredAt time.Time
}
