/*
handlers.go - HTTP API handlers for the lesson engine

PURPOSE:
  Exposes slot booking, balances, packages, and payments via REST, plus
  the two inbound machine endpoints: the payment provider webhook and
  the scheduler-triggered passed-slot sweep. Handles HTTP
  request/response and JSON serialization, delegating all rules to the
  booking, ledger, and payments packages.

ENDPOINTS:
  Slots:
    GET    /api/slots                 List slots (tenant-scoped, filterable)
    POST   /api/slots                 Create slot (instructor)
    GET    /api/slots/{id}            Get slot details
    POST   /api/slots/{id}/reserve    Reserve (student)
    POST   /api/slots/{id}/cancel     Cancel / delete
    POST   /api/slots/{id}/comment    Record instructor debrief

  Account:
    GET    /api/me/balance            Hours remaining
    GET    /api/me/payments           Own payment history
    GET    /api/me/school             Acting user's school

  Catalog:
    GET    /api/packages              School's package catalog
    GET    /api/packages/{id}         Single package

  Machine:
    POST   /webhooks/stripe           Payment provider webhook
    POST   /jobs/update-passed-hours  Sweep trigger (static bearer)

ERROR HANDLING:
  Domain errors map to statuses:
  - 400: Invalid input, past schedule, insufficient hours
  - 403: Role/tenant rejection
  - 404: Missing slot/user
  - 409: Already reserved / already completed / comment exists
  - 503: Transient store failures (retryable)
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor extraction
  - server.go: Router wiring
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drivehub/school-engine/booking"
	"github.com/drivehub/school-engine/ledger"
	"github.com/drivehub/school-engine/payments"
	"github.com/drivehub/school-engine/school"
	"github.com/drivehub/school-engine/store/sqlite"
)

// maxWebhookPayload bounds the provider webhook body (they are small).
const maxWebhookPayload = 65536

// Config carries the secrets and knobs handlers need.
type Config struct {
	JWTSecret     string
	WebhookSecret string
	SweepToken    string
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Booking *booking.Manager
	Ledger  *ledger.HoursLedger
	Worker  *payments.Worker
	Config  Config

	now func() time.Time
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *sqlite.Store, bk *booking.Manager, hl *ledger.HoursLedger, worker *payments.Worker, cfg Config) *Handler {
	return &Handler{
		Store:   store,
		Booking: bk,
		Ledger:  hl,
		Worker:  worker,
		Config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// SLOT HANDLERS
// =============================================================================

// ListSlots returns the school's slots, filterable by range and flags.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	filter := sqlite.SlotFilter{
		InstructorID: r.URL.Query().Get("instructor_id"),
		StudentID:    r.URL.Query().Get("student_id"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		filter.From = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
		filter.To = &t
	}
	if v := r.URL.Query().Get("reserved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid reserved flag", err)
			return
		}
		filter.Reserved = &b
	}
	if v := r.URL.Query().Get("passed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid passed flag", err)
			return
		}
		filter.Passed = &b
	}

	slots, err := h.Store.ListSlots(r.Context(), actor.SchoolID, filter)
	if err != nil {
		writeDomainError(w, "Failed to list slots", err)
		return
	}

	dtos := make([]SlotDTO, len(slots))
	for i, sl := range slots {
		dtos[i] = toSlotDTO(sl)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSlot returns a single slot.
func (h *Handler) GetSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	sl, err := h.Store.GetSlot(r.Context(), actor.SchoolID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get slot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotDTO(*sl))
}

// CreateSlot opens a new bookable slot for the acting instructor.
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	startsAt, err := time.Parse("2006-01-02 15:04", req.Date+" "+req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date/start_time (use YYYY-MM-DD and HH:MM)", err)
		return
	}

	sl, err := h.Booking.CreateSlot(r.Context(), actor, booking.NewSlot{
		StartsAt:     startsAt.UTC(),
		Vehicle:      req.Vehicle,
		Transmission: school.Transmission(req.Transmission),
	})
	if err != nil {
		writeDomainError(w, "Failed to create slot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotDTO(*sl))
}

// ReserveSlot books the slot for the acting student.
func (h *Handler) ReserveSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	if err := h.Booking.ReserveSlot(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to reserve slot", err)
		return
	}

	sl, err := h.Store.GetSlot(r.Context(), actor.SchoolID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to load slot", err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotDTO(*sl))
}

// CancelSlot cancels a reservation or deletes an open slot.
func (h *Handler) CancelSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	if err := h.Booking.CancelSlot(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to cancel slot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// CommentSlot records the instructor debrief on a completed slot.
func (h *Handler) CommentSlot(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	var req CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Comment == "" {
		writeError(w, http.StatusBadRequest, "Comment must not be empty", nil)
		return
	}

	if err := h.Booking.RecordComment(r.Context(), actor, chi.URLParam(r, "id"), req.Comment); err != nil {
		writeDomainError(w, "Failed to record comment", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

// =============================================================================
// ACCOUNT AND CATALOG HANDLERS
// =============================================================================

// GetMySchool returns the acting user's school.
func (h *Handler) GetMySchool(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	sc, err := h.Store.GetSchool(r.Context(), actor.SchoolID)
	if err != nil {
		writeDomainError(w, "Failed to get school", err)
		return
	}
	if sc == nil {
		writeError(w, http.StatusNotFound, "School not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, SchoolDTO{ID: sc.ID, Name: sc.Name, Slug: sc.Slug})
}

// GetBalance returns the acting user's hours balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	balance, err := h.Ledger.Balance(r.Context(), actor.SchoolID, actor.UserID)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{UserID: actor.UserID, HoursRemaining: balance})
}

// ListPackages returns the school's package catalog.
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	pkgs, err := h.Store.ListPackages(r.Context(), actor.SchoolID)
	if err != nil {
		writeDomainError(w, "Failed to list packages", err)
		return
	}

	dtos := make([]PackageDTO, len(pkgs))
	for i, p := range pkgs {
		dtos[i] = PackageDTO{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price.StringFixed(2),
			Hours:       p.Hours,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPackage returns one package from the school's catalog.
func (h *Handler) GetPackage(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	p, err := h.Store.GetPackage(r.Context(), actor.SchoolID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get package", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Package not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, PackageDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		Hours:       p.Hours,
	})
}

// ListMyPayments returns the acting user's payment history.
func (h *Handler) ListMyPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	userID := actor.UserID
	if actor.Is(school.RoleAdmin) {
		// Admins may inspect any member's history, or the whole school.
		userID = r.URL.Query().Get("user_id")
	}

	list, err := h.Store.ListPayments(r.Context(), actor.SchoolID, userID)
	if err != nil {
		writeDomainError(w, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(list))
	for i, p := range list {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MACHINE ENDPOINTS
// =============================================================================

// StripeWebhook handles the provider's checkout notifications.
// Signature failures get 400; events for unknown customers or
// unmappable amounts are logged and acknowledged so the provider stops
// redelivering them; store failures get 500 so it retries.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookPayload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	if len(payload) > maxWebhookPayload {
		writeError(w, http.StatusRequestEntityTooLarge, "Payload too large", nil)
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		writeError(w, http.StatusBadRequest, "Missing Stripe-Signature header", nil)
		return
	}

	ev, err := payments.ParseWebhook(payload, sig, h.Config.WebhookSecret)
	if err != nil {
		if errors.Is(err, payments.ErrSignatureVerification) {
			writeError(w, http.StatusBadRequest, "Webhook signature verification failed", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid webhook payload", err)
		return
	}
	if ev == nil {
		// Valid event of a type we do not act on.
		writeJSON(w, http.StatusOK, WebhookResponse{OK: true})
		return
	}

	if err := h.Worker.Reconcile(r.Context(), *ev); err != nil {
		if errors.Is(err, school.ErrUnknownCustomer) || errors.Is(err, school.ErrUnmappablePrice) {
			// Redelivery cannot fix these; drop the event.
			log.Printf("[Webhook] Dropping event for payment %s: %v", ev.PaymentRef, err)
			writeJSON(w, http.StatusOK, WebhookResponse{OK: true})
			return
		}
		log.Printf("[Webhook] Processing failed for payment %s: %v", ev.PaymentRef, err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{OK: true})
}

// UpdatePassedHours runs the passed-slot sweep. Invoked by the external
// scheduler with a static bearer credential.
func (h *Handler) UpdatePassedHours(w http.ResponseWriter, r *http.Request) {
	if !checkJobToken(r, h.Config.SweepToken) {
		writeError(w, http.StatusUnauthorized, "Invalid job credential", nil)
		return
	}

	updated, err := h.Booking.Sweep(r.Context(), h.now())
	if err != nil {
		log.Printf("[Sweep] Failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:     err.Error(),
			Timestamp: h.now().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, SweepResponse{
		Message: "Successfully updated passed hours",
		Updated: updated,
	})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, school.ErrUnauthorized):
		writeError(w, http.StatusForbidden, message, err)
	case school.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, school.ErrSlotAlreadyReserved),
		errors.Is(err, school.ErrSlotAlreadyCompleted),
		errors.Is(err, school.ErrCommentExists),
		errors.Is(err, school.ErrDuplicatePayment):
		writeError(w, http.StatusConflict, message, err)
	case school.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case school.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
