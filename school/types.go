/*
Package school defines the core domain model for the driving-school engine.

PURPOSE:
  This package contains the shared domain types used across the booking,
  ledger, and payments components: tenants (schools), users with their
  hours balance, bookable lesson slots, purchasable hour packages, and
  payment records.

KEY CONCEPTS IN THIS FILE (types.go):
  - School: The tenant boundary. Every other row belongs to exactly one.
  - User: A student, instructor, or admin. Students carry HoursRemaining.
  - Slot: One bookable lesson unit (fixed one-hour duration).
  - Package: A purchasable bundle of hours at a fixed price.
  - Payment: A settled purchase keyed by the provider payment reference.
  - Actor: The authenticated caller. Every core operation takes one and
    checks role and tenant membership before touching any row.

DESIGN PRINCIPLES:
  1. Tenancy is explicit: schoolID is threaded through signatures, never
     carried in ambient state.
  2. Precision: package prices use decimal.Decimal, never float64.
  3. Hours are integers: a slot is exactly one hour, balances are counters.

SEE ALSO:
  - errors.go: Error taxonomy for all core operations
  - events.go: Domain events published after committed mutations
*/
package school

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlotDuration is the fixed length of a bookable lesson.
// End times are always derived, never stored independently of this.
const SlotDuration = time.Hour

// =============================================================================
// ROLES AND ACTOR
// =============================================================================

type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Actor identifies the authenticated caller of a core operation.
// Every public operation checks the actor's role and school membership
// as its first step and fails closed with ErrUnauthorized.
type Actor struct {
	UserID   string
	Role     Role
	SchoolID string
}

// Is reports whether the actor holds one of the given roles.
func (a Actor) Is(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// =============================================================================
// TENANT
// =============================================================================

// School is the tenant root. Users, slots, packages, and payments all
// belong to exactly one school.
type School struct {
	ID        string
	Name      string
	Slug      string
	AdminID   string
	CreatedAt time.Time
}

// =============================================================================
// USER
// =============================================================================

// User is a member of a school. Students carry the hours balance;
// HoursRemaining changes only through the hours ledger.
type User struct {
	ID             string
	SchoolID       string
	Name           string
	Email          string
	Role           Role
	HoursRemaining int
	PackageID      string // active package, set by payment reconciliation
	CreatedAt      time.Time
}

// =============================================================================
// SLOT
// =============================================================================

type Transmission string

const (
	TransmissionManual    Transmission = "manual"
	TransmissionAutomatic Transmission = "automatic"
)

// Slot is one bookable lesson unit owned by an instructor.
//
// Lifecycle: open (no student, not reserved) -> reserved (student
// assigned, balance decremented) -> completed (Passed=true, set by the
// sweep once the end time elapses). Cancellation before the slot
// elapses returns it to open and refunds the student. Passed is
// monotonic: once true it never reverts.
type Slot struct {
	ID           string
	SchoolID     string
	InstructorID string
	StudentID    string // empty unless reserved
	StartsAt     time.Time
	EndsAt       time.Time // always StartsAt + SlotDuration
	Vehicle      string
	Transmission Transmission
	Reserved     bool
	Passed       bool
	Comment      string // instructor debrief, write-once after completion
	CreatedAt    time.Time
}

// Open reports whether the slot can still be reserved.
func (s Slot) Open() bool {
	return !s.Reserved && !s.Passed
}

// =============================================================================
// PACKAGE
// =============================================================================

// Package is a purchasable bundle of lesson hours at a fixed price.
// Payment reconciliation matches paid amounts against Price exactly.
type Package struct {
	ID          string
	SchoolID    string
	Name        string
	Description string
	Price       decimal.Decimal // major units (e.g. euros)
	Hours       int
	CreatedAt   time.Time
}

// PriceMinorUnits returns the package price in minor units (cents),
// the representation payment providers report amounts in.
func (p Package) PriceMinorUnits() int64 {
	return p.Price.Mul(decimal.NewFromInt(100)).IntPart()
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Payment records a settled package purchase. ProviderPaymentRef is the
// external payment reference and doubles as the idempotency key: the
// store enforces at most one row per reference.
type Payment struct {
	ID                 string
	SchoolID           string
	UserID             string
	PackageID          string
	Amount             decimal.Decimal // major units
	Currency           string
	Method             string
	Status             PaymentStatus
	ProviderPaymentRef string
	ReceiptURL         string // best-effort enrichment, may stay empty
	CreatedAt          time.Time
}
