/*
Package payments implements payment-to-entitlement reconciliation.

PURPOSE:
  Reacts to a payment provider's "checkout completed" notification and
  grants the purchased package's hours exactly once:

  1. Resolve the provider customer reference to a user. Unknown
     customer: event dropped (logged, not retried).
  2. Match the paid amount to a package by exact price. No match:
     event dropped (logged, not retried).
  3. Record the payment and grant the hours in one store transaction,
     keyed on the unique provider payment reference. Redelivery of the
     same reference is a successful no-op: no second row, no second
     grant.
  4. Best-effort: fetch the provider receipt URL with bounded retries
     and attach it to the payment. Failure here is logged and never
     fails the reconciliation.

IDEMPOTENCY:
  The uniqueness constraint on the payment reference is the mechanism,
  not an application-level check: concurrent deliveries of the same
  event race on the insert, and exactly one wins.

SEE ALSO:
  - webhook.go: Signature verification and event decoding
  - stripe.go:  Receipt URL lookup against the provider API
*/
package payments

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/drivehub/school-engine/school"
)

const methodStripe = "stripe"

// CheckoutEvent is the provider notification the worker consumes.
// AmountTotal is in minor units (cents).
type CheckoutEvent struct {
	CustomerRef string
	PaymentRef  string
	AmountTotal int64
	Currency    string
}

// Store is the payments-facing subset of the ledger store.
type Store interface {
	ResolveCustomerRef(ctx context.Context, customerRef string) (schoolID, userID string, err error)
	ListPackages(ctx context.Context, schoolID string) ([]school.Package, error)
	RecordPaymentGrant(ctx context.Context, p school.Payment, grantHours int) error
	UpdatePaymentReceipt(ctx context.Context, paymentID, receiptURL string) error
}

// ReceiptFetcher looks up the provider's receipt URL for a payment
// reference. Implemented against Stripe in stripe.go; nil disables
// receipt enrichment.
type ReceiptFetcher interface {
	ReceiptURL(ctx context.Context, paymentRef string) (string, error)
}

// Notifier receives domain events after committed mutations.
type Notifier interface {
	Publish(ev school.Event)
}

// Worker reconciles provider checkout events into package grants.
type Worker struct {
	store    Store
	receipts ReceiptFetcher
	notifier Notifier
}

func NewWorker(store Store, receipts ReceiptFetcher, notifier Notifier) *Worker {
	return &Worker{store: store, receipts: receipts, notifier: notifier}
}

// Reconcile processes one checkout-completed event. A nil return means
// the event is settled: granted now, or already granted by an earlier
// delivery. ErrUnknownCustomer and ErrUnmappablePrice mean the event
// must be dropped; anything else is transient and worth a redelivery.
func (w *Worker) Reconcile(ctx context.Context, ev CheckoutEvent) error {
	schoolID, userID, err := w.store.ResolveCustomerRef(ctx, ev.CustomerRef)
	if err != nil {
		return err
	}

	packages, err := w.store.ListPackages(ctx, schoolID)
	if err != nil {
		return err
	}
	pkg, err := MatchPackage(packages, ev.AmountTotal)
	if err != nil {
		return err
	}

	payment := school.Payment{
		ID:                 uuid.NewString(),
		SchoolID:           schoolID,
		UserID:             userID,
		PackageID:          pkg.ID,
		Amount:             decimal.NewFromInt(ev.AmountTotal).Div(decimal.NewFromInt(100)),
		Currency:           strings.ToUpper(ev.Currency),
		Method:             methodStripe,
		Status:             school.PaymentPaid,
		ProviderPaymentRef: ev.PaymentRef,
	}

	if err := w.store.RecordPaymentGrant(ctx, payment, pkg.Hours); err != nil {
		if errors.Is(err, school.ErrDuplicatePayment) {
			// Redelivery of an already-processed reference.
			log.Printf("[Reconcile] Duplicate delivery for payment %s, no-op", ev.PaymentRef)
			return nil
		}
		return err
	}

	w.attachReceipt(ctx, payment.ID, ev.PaymentRef)

	if w.notifier != nil {
		w.notifier.Publish(school.Event{
			Type:      school.EventPaymentReconciled,
			SchoolID:  schoolID,
			UserID:    userID,
			PaymentID: payment.ID,
		})
	}

	log.Printf("[Reconcile] Granted %d hours to user %s (payment %s, package %s)",
		pkg.Hours, userID, ev.PaymentRef, pkg.ID)
	return nil
}

// attachReceipt fetches the provider receipt URL with bounded backoff
// and stores it. Best-effort: the grant is already committed and a
// failure here only costs the receipt link.
func (w *Worker) attachReceipt(ctx context.Context, paymentID, paymentRef string) {
	if w.receipts == nil {
		return
	}

	var receiptURL string
	backoff := retry.WithMaxRetries(2, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		url, err := w.receipts.ReceiptURL(ctx, paymentRef)
		if err != nil {
			return retry.RetryableError(err)
		}
		receiptURL = url
		return nil
	})
	if err != nil {
		log.Printf("[Reconcile] Receipt lookup failed for %s (non-fatal): %v", paymentRef, err)
		return
	}
	if receiptURL == "" {
		return
	}

	if err := w.store.UpdatePaymentReceipt(ctx, paymentID, receiptURL); err != nil {
		log.Printf("[Reconcile] Storing receipt URL failed for %s (non-fatal): %v", paymentRef, err)
	}
}
