/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the internal domain
  model from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers; DTOs are pure data carriers.
*/
package api

import (
	"time"

	"github.com/drivehub/school-engine/school"
)

// =============================================================================
// SLOTS
// =============================================================================

// CreateSlotRequest opens a new bookable slot. Date and start time use
// the calendar's wire format; the end time is derived server-side.
type CreateSlotRequest struct {
	Date         string `json:"date"`       // YYYY-MM-DD
	StartTime    string `json:"start_time"` // HH:MM, 24h
	Vehicle      string `json:"vehicle,omitempty"`
	Transmission string `json:"transmission,omitempty"` // manual|automatic
}

// SlotDTO represents a slot in API responses.
type SlotDTO struct {
	ID           string `json:"id"`
	InstructorID string `json:"instructor_id"`
	StudentID    string `json:"student_id,omitempty"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Vehicle      string `json:"vehicle,omitempty"`
	Transmission string `json:"transmission,omitempty"`
	Reserved     bool   `json:"reserved"`
	Passed       bool   `json:"passed"`
	Comment      string `json:"comment,omitempty"`
}

func toSlotDTO(sl school.Slot) SlotDTO {
	return SlotDTO{
		ID:           sl.ID,
		InstructorID: sl.InstructorID,
		StudentID:    sl.StudentID,
		Date:         sl.StartsAt.Format("2006-01-02"),
		StartTime:    sl.StartsAt.Format("15:04"),
		EndTime:      sl.EndsAt.Format("15:04"),
		Vehicle:      sl.Vehicle,
		Transmission: string(sl.Transmission),
		Reserved:     sl.Reserved,
		Passed:       sl.Passed,
		Comment:      sl.Comment,
	}
}

// CommentRequest records the instructor debrief on a completed slot.
type CommentRequest struct {
	Comment string `json:"comment"`
}

// =============================================================================
// BALANCE, PACKAGES, PAYMENTS
// =============================================================================

// SchoolDTO identifies the acting user's school.
type SchoolDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// BalanceDTO is a student's current hours balance.
type BalanceDTO struct {
	UserID         string `json:"user_id"`
	HoursRemaining int    `json:"hours_remaining"`
}

// PackageDTO represents a purchasable hours bundle.
type PackageDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Hours       int    `json:"hours"`
}

// PaymentDTO represents a settled purchase.
type PaymentDTO struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	PackageID  string `json:"package_id"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Method     string `json:"method"`
	Status     string `json:"status"`
	ReceiptURL string `json:"receipt_url,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toPaymentDTO(p school.Payment) PaymentDTO {
	return PaymentDTO{
		ID:         p.ID,
		UserID:     p.UserID,
		PackageID:  p.PackageID,
		Amount:     p.Amount.StringFixed(2),
		Currency:   p.Currency,
		Method:     p.Method,
		Status:     string(p.Status),
		ReceiptURL: p.ReceiptURL,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// WEBHOOK AND JOBS
// =============================================================================

// WebhookResponse acknowledges a provider webhook delivery.
type WebhookResponse struct {
	OK bool `json:"ok"`
}

// SweepResponse reports a completed passed-slot sweep.
type SweepResponse struct {
	Message string `json:"message"`
	Updated int    `json:"updated"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}
