package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Verifier authenticates a raw webhook delivery and decodes it.
type Verifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

// StripeVerifier checks the Stripe-Signature header against the endpoint
// secret.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier returns a verifier for the endpoint secret (whsec_...).
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

// Verify implements Verifier. Every failure wraps ErrInvalidSignature.
func (v *StripeVerifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	if v.secret == "" {
		return stripe.Event{}, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ev, nil
}
