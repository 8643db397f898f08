// Package services – SubscriptionService
//
// SubscriptionService exposes the user's billing state and starts hosted
// checkout for the Pro plan. State changes arrive through the billing
// webhook, not through this service.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/billing"
	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
)

// CheckoutCreator opens a provider checkout session for a user.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, userID uint) (*billing.CheckoutSession, error)
}

// SubscriptionSummary is the public view of a subscription.
type SubscriptionSummary struct {
	ID               uint                      `json:"id"`
	Status           domain.SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time                `json:"current_period_end"`
}

// SubscriptionStatus is the user's tier and current active subscription.
type SubscriptionStatus struct {
	Tier         domain.Tier          `json:"tier"`
	Subscription *SubscriptionSummary `json:"subscription"`
}

// SubscriptionService reads billing state and starts checkout.
type SubscriptionService struct {
	DB       *gorm.DB
	Checkout CheckoutCreator
}

// Status returns the user's tier and most recent active subscription.
func (s *SubscriptionService) Status(ctx context.Context, userID uint) (*SubscriptionStatus, error) {
	tier, err := repo.GetUserTier(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	out := &SubscriptionStatus{Tier: tier}
	sub, err := repo.LatestActiveSubscription(ctx, s.DB, userID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		out.Subscription = &SubscriptionSummary{
			ID:               sub.ID,
			Status:           sub.Status,
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
		}
	}
	return out, nil
}

// Subscribe starts a Pro checkout for userID.
func (s *SubscriptionService) Subscribe(ctx context.Context, userID uint) (*billing.CheckoutSession, error) {
	if s.Checkout == nil {
		return nil, ErrBillingUnavailable
	}
	return s.Checkout.CreateCheckout(ctx, userID)
}
