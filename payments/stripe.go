package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeReceipts fetches receipt URLs from the Stripe API: payment
// intent -> latest charge -> receipt URL.
type StripeReceipts struct {
	api *client.API
}

func NewStripeReceipts(secretKey string) *StripeReceipts {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeReceipts{api: api}
}

// ReceiptURL implements ReceiptFetcher. An intent without a settled
// charge yields an empty URL, not an error.
func (s *StripeReceipts) ReceiptURL(ctx context.Context, paymentRef string) (string, error) {
	pi, err := s.api.PaymentIntents.Get(paymentRef, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return "", err
	}
	if pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		return "", nil
	}

	ch, err := s.api.Charges.Get(pi.LatestCharge.ID, &stripe.ChargeParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return "", err
	}
	return ch.ReceiptURL, nil
}
