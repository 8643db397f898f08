// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
)

// CreateUser inserts a basic-tier user. A reused mobile yields ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, mobile string) (*domain.User, error) {
	now := time.Now().UTC()
	u := &domain.User{
		Mobile:           mobile,
		SubscriptionTier: domain.TierBasic,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return u, nil
}

// GetUser fetches a user by ID or returns ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByMobile fetches a user by mobile or returns ErrNotFound.
func GetUserByMobile(ctx context.Context, db *gorm.DB, mobile string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, "mobile = ?", mobile).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserTier reads only the tier column for id.
func GetUserTier(ctx context.Context, db *gorm.DB, id uint) (domain.Tier, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Select("id", "subscription_tier").
		First(&u, "id = ?", id).Error
	if err != nil {
		return "", err
	}
	return u.SubscriptionTier, nil
}

// SetUserTier updates the user's tier, returning ErrNotFound when no row
// matches.
func SetUserTier(ctx context.Context, db *gorm.DB, id uint, tier domain.Tier) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"subscription_tier": tier,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
