package payments_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivehub/school-engine/payments"
)

const webhookSecret = "whsec_test"

// signPayload builds a Stripe-Signature header for payload, the same
// scheme the provider uses: v1 = HMAC-SHA256(secret, "<ts>.<payload>").
func signPayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"data": {
			"object": {
				"id": "cs_1",
				"customer": "cus_lea",
				"payment_intent": "pi_1",
				"amount_total": 22500,
				"currency": "eur"
			}
		}
	}`, stripe.APIVersion, eventType))
}

func TestParseWebhook_CheckoutCompleted(t *testing.T) {
	payload := checkoutPayload("checkout.session.completed")
	sig := signPayload(payload, webhookSecret, time.Now())

	ev, err := payments.ParseWebhook(payload, sig, webhookSecret)
	require.NoError(t, err)
	require.NotNil(t, ev)

	assert.Equal(t, "cus_lea", ev.CustomerRef)
	assert.Equal(t, "pi_1", ev.PaymentRef)
	assert.Equal(t, int64(22500), ev.AmountTotal)
	assert.Equal(t, "eur", ev.Currency)
}

func TestParseWebhook_IgnoresOtherEventTypes(t *testing.T) {
	payload := checkoutPayload("invoice.paid")
	sig := signPayload(payload, webhookSecret, time.Now())

	ev, err := payments.ParseWebhook(payload, sig, webhookSecret)
	require.NoError(t, err)
	assert.Nil(t, ev, "uninteresting events are acknowledged without acting")
}

func TestParseWebhook_BadSignature(t *testing.T) {
	payload := checkoutPayload("checkout.session.completed")
	sig := signPayload(payload, "whsec_wrong", time.Now())

	ev, err := payments.ParseWebhook(payload, sig, webhookSecret)
	assert.ErrorIs(t, err, payments.ErrSignatureVerification)
	assert.Nil(t, ev)
}

func TestParseWebhook_MalformedSessionIsNotASignatureFailure(t *testing.T) {
	// GIVEN: A correctly signed payload whose session fields are malformed
	// WHEN: Parsing
	// THEN: A decode error, distinguishable from a signature failure

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"amount_total": "not-a-number"}}
	}`, stripe.APIVersion))
	sig := signPayload(payload, webhookSecret, time.Now())

	ev, err := payments.ParseWebhook(payload, sig, webhookSecret)
	require.Error(t, err)
	assert.NotErrorIs(t, err, payments.ErrSignatureVerification)
	assert.Nil(t, ev)
}

func TestParseWebhook_StaleTimestamp(t *testing.T) {
	payload := checkoutPayload("checkout.session.completed")
	sig := signPayload(payload, webhookSecret, time.Now().Add(-time.Hour))

	ev, err := payments.ParseWebhook(payload, sig, webhookSecret)
	assert.ErrorIs(t, err, payments.ErrSignatureVerification,
		"replayed signatures outside the tolerance window are rejected")
	assert.Nil(t, ev)
}

func TestParseWebhook_TamperedPayload(t *testing.T) {
	payload := checkoutPayload("checkout.session.completed")
	sig := signPayload(payload, webhookSecret, time.Now())

	tampered := checkoutPayload("checkout.session.completed")
	tampered = []byte(string(tampered[:len(tampered)-1]) + " ")

	ev, err := payments.ParseWebhook(tampered, sig, webhookSecret)
	assert.Error(t, err)
	assert.Nil(t, ev)
}
