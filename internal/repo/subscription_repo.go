// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Subscription model.
//
// Webhook handlers rely on two properties from this file:
//   - external_subscription_id is unique, so CreateSubscription returns
//     ErrDuplicate instead of inserting a second row for the same provider id.
//   - GetOrCreateSubscription is a lookup-or-create that tolerates losing the
//     insert race to a concurrent delivery.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
)

// GetSubscriptionByExternalID fetches by provider id or returns ErrNotFound.
func GetSubscriptionByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.Subscription, error) {
	var s domain.Subscription
	if err := db.WithContext(ctx).First(&s, "external_subscription_id = ?", externalID).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSubscription inserts s, mapping a unique violation to ErrDuplicate.
func CreateSubscription(ctx context.Context, db *gorm.DB, s *domain.Subscription) error {
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetOrCreateSubscription returns the row for s.ExternalSubscriptionID,
// inserting s when none exists. created reports whether this call inserted.
//
// Callers running inside a transaction on PostgreSQL should serialize with a
// lock first: a failed insert aborts the surrounding transaction there.
func GetOrCreateSubscription(ctx context.Context, db *gorm.DB, s *domain.Subscription) (*domain.Subscription, bool, error) {
	existing, err := GetSubscriptionByExternalID(ctx, db, s.ExternalSubscriptionID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if err := CreateSubscription(ctx, db, s); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return nil, false, err
		}
		existing, err := GetSubscriptionByExternalID(ctx, db, s.ExternalSubscriptionID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return s, true, nil
}

// UpdateSubscriptionStatus sets status and, when periodEnd is non-nil, the
// current period end on the row with the given provider id.
func UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, externalID string, status domain.SubscriptionStatus, periodEnd *time.Time) error {
	fields := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if periodEnd != nil {
		fields["current_period_end"] = periodEnd.UTC()
	}
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("external_subscription_id = ?", externalID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestActiveSubscription returns the most recently created active
// subscription for userID, or ErrNotFound.
func LatestActiveSubscription(ctx context.Context, db *gorm.DB, userID uint) (*domain.Subscription, error) {
	var s domain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, domain.StatusActive).
		Order("created_at desc, id desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountActiveSubscriptions counts userID's active subscriptions, optionally
// excluding one provider id.
func CountActiveSubscriptions(ctx context.Context, db *gorm.DB, userID uint, exceptExternalID string) (int64, error) {
	var n int64
	q := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("user_id = ? AND status = ?", userID, domain.StatusActive)
	if exceptExternalID != "" {
		q = q.Where("external_subscription_id <> ?", exceptExternalID)
	}
	err := q.Count(&n).Error
	return n, err
}
