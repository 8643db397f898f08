// Package services – UserService
//
// UserService reads user profiles and tiers. Tier is also the source the
// quota limiter consults on every admission, so it is always read from the
// store and never cached.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
)

// UserService provides user lookups and operator tier changes.
type UserService struct {
	DB *gorm.DB
}

// Get returns the user or ErrUserNotFound.
func (s *UserService) Get(ctx context.Context, id uint) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// Tier returns the user's current tier. It satisfies quota.TierSource.
func (s *UserService) Tier(ctx context.Context, id uint) (domain.Tier, error) {
	t, err := repo.GetUserTier(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrUserNotFound
	}
	return t, err
}

// Exists reports whether id names a user.
func (s *UserService) Exists(ctx context.Context, id uint) (bool, error) {
	_, err := s.Tier(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create registers a user by mobile number, or returns the existing one.
func (s *UserService) Create(ctx context.Context, mobile string) (*domain.User, error) {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return nil, errors.New("mobile is required")
	}
	u, err := repo.CreateUser(ctx, s.DB, mobile)
	if errors.Is(err, repo.ErrDuplicate) {
		return repo.GetUserByMobile(ctx, s.DB, mobile)
	}
	return u, err
}

// SetTier changes a user's tier outside the billing flow.
func (s *UserService) SetTier(ctx context.Context, id uint, tier domain.Tier) error {
	if !tier.Valid() {
		return ErrInvalidTier
	}
	err := repo.SetUserTier(ctx, s.DB, id, tier)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
