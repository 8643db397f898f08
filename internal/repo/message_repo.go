// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
)

// CreateMessage inserts a new user message with no response yet.
func CreateMessage(ctx context.Context, db *gorm.DB, chatroomID, userID uint, text string) (*domain.Message, error) {
	now := time.Now().UTC()
	m := &domain.Message{
		ChatroomID:    chatroomID,
		UserID:        userID,
		Text:          text,
		IsUserMessage: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns messages ordered deterministically (CreatedAt ASC, ID ASC).
func ListMessages(ctx context.Context, db *gorm.DB, chatroomID uint, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("chatroom_id = ?", chatroomID).Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id uint) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMessageResponse stores the generated reply for a message. The update is
// conditional on response still being NULL, so the transition happens at most
// once; later writes for the same message are no-ops.
//
// It reports whether this call performed the write. A missing message yields
// ErrNotFound.
func SetMessageResponse(ctx context.Context, db *gorm.DB, id uint, response string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND response IS NULL", id).
		Updates(map[string]any{
			"response":   response,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	var n int64
	if err := db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}
