package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81/webhook"
)

// eventCheckoutCompleted is the only provider event type acted on.
const eventCheckoutCompleted = "checkout.session.completed"

// ErrSignatureVerification marks a delivery that failed signature
// verification, as opposed to a verified payload that could not be
// decoded.
var ErrSignatureVerification = errors.New("webhook signature verification failed")

// ParseWebhook verifies the provider signature and decodes the payload
// into a CheckoutEvent. Returns (nil, nil) for valid events of an
// uninteresting type; the caller acknowledges those without acting.
// Verification failures wrap ErrSignatureVerification; decode failures
// of a verified payload do not.
func ParseWebhook(payload []byte, sigHeader, secret string) (*CheckoutEvent, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}

	if string(event.Type) != eventCheckoutCompleted {
		return nil, nil
	}

	// Decode only the fields consumed; expandable provider objects
	// arrive as bare reference strings in webhook payloads.
	var session struct {
		Customer      string `json:"customer"`
		PaymentIntent string `json:"payment_intent"`
		AmountTotal   int64  `json:"amount_total"`
		Currency      string `json:"currency"`
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}

	return &CheckoutEvent{
		CustomerRef: session.Customer,
		PaymentRef:  session.PaymentIntent,
		AmountTotal: session.AmountTotal,
		Currency:    session.Currency,
	}, nil
}
