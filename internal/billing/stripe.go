package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// SubscriptionFetcher loads the provider's view of a subscription.
type SubscriptionFetcher interface {
	Fetch(ctx context.Context, id string) (*stripe.Subscription, error)
}

// CheckoutSession is what the client needs to redirect to hosted checkout.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// CheckoutConfig describes the Pro plan sold through checkout.
type CheckoutConfig struct {
	PriceCents  int64
	FrontendURL string
}

// StripeClient talks to the Stripe API with a secret key.
type StripeClient struct {
	api *client.API
	cfg CheckoutConfig
}

// NewStripeClient returns a client for key. It does not contact Stripe.
func NewStripeClient(key string, cfg CheckoutConfig) *StripeClient {
	if cfg.PriceCents <= 0 {
		cfg.PriceCents = 999
	}
	return &StripeClient{api: client.New(key, nil), cfg: cfg}
}

// Fetch implements SubscriptionFetcher.
func (c *StripeClient) Fetch(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", id, err)
	}
	return sub, nil
}

// CreateCheckout opens a monthly subscription checkout for userID. The user
// id travels in the session metadata and comes back with
// checkout.session.completed.
func (c *StripeClient) CreateCheckout(ctx context.Context, userID uint) (*CheckoutSession, error) {
	if c.cfg.FrontendURL == "" {
		return nil, errors.New("checkout: frontend url not configured")
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(string(stripe.CurrencyUSD)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String("Pro Subscription"),
					Description: stripe.String("Unlimited AI conversations"),
				},
				UnitAmount: stripe.Int64(c.cfg.PriceCents),
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(c.cfg.FrontendURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(c.cfg.FrontendURL + "/cancel"),
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, strconv.FormatUint(uint64(userID), 10))

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}
