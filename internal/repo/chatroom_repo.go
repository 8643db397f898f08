// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chatroom
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a chatroom is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - CreateChatroom(ctx, db, userID, name) -> *domain.Chatroom, error
//     Inserts a new Chatroom row with a UTC timestamp.
//
//   - ListChatrooms(ctx, db, userID) -> []domain.Chatroom, error
//     Returns all chatrooms for a user, most recent first.
//
//   - GetChatroom(ctx, db, id, userID) -> *domain.Chatroom, error
//     Fetches a single chatroom by ID/userID, or ErrNotFound if missing.
//
//   - GetChatroomWithMessages(ctx, db, id, userID) -> *domain.Chatroom, error
//     Same as GetChatroom with Messages preloaded in creation order.
//
// This repository is wrapped by services.ChatroomService, which owns the
// cached listing and its invalidation.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateChatroom inserts a new Chatroom row owned by userID with the given
// name. On success, it returns the persisted Chatroom with its assigned ID.
func CreateChatroom(ctx context.Context, db *gorm.DB, userID uint, name string) (*domain.Chatroom, error) {
	now := time.Now().UTC()
	c := &domain.Chatroom{
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// ListChatrooms returns all chatrooms belonging to userID, ordered by
// creation time descending (most recent first). It returns an empty slice if
// the user has none.
func ListChatrooms(ctx context.Context, db *gorm.DB, userID uint) ([]domain.Chatroom, error) {
	out := []domain.Chatroom{}
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Find(&out).Error
	return out, err
}

// GetChatroom fetches a single chatroom by its ID and owner (userID). If the
// record does not exist, it returns ErrNotFound.
func GetChatroom(ctx context.Context, db *gorm.DB, id, userID uint) (*domain.Chatroom, error) {
	var c domain.Chatroom
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChatroomWithMessages is GetChatroom with the message history preloaded,
// oldest first.
func GetChatroomWithMessages(ctx context.Context, db *gorm.DB, id, userID uint) (*domain.Chatroom, error) {
	var c domain.Chatroom
	err := db.WithContext(ctx).
		Preload("Messages", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at ASC, id ASC")
		}).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	return &c, nil
}
