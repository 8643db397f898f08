// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the append-mostly journals: verified
// webhook deliveries and terminal job failures.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
)

// RecordWebhookEvent journals a verified delivery. It reports first=false when
// the (provider, event id) pair was already recorded.
func RecordWebhookEvent(ctx context.Context, db *gorm.DB, provider, eventID, eventType string) (first bool, err error) {
	ev := &domain.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkWebhookEventProcessed stamps ProcessedAt and stores the handler error
// text (empty on success).
func MarkWebhookEventProcessed(ctx context.Context, db *gorm.DB, provider, eventID string, handlerErr error) error {
	msg := ""
	if handlerErr != nil {
		msg = handlerErr.Error()
	}
	return db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Updates(map[string]any{
			"processed_at":     time.Now().UTC(),
			"processing_error": msg,
		}).Error
}

// RecordJobFailure stores the terminal failure of a generation job. Recording
// the same job twice is a no-op.
func RecordJobFailure(ctx context.Context, db *gorm.DB, f *domain.JobFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// ListJobFailures returns failures for a message, oldest first.
func ListJobFailures(ctx context.Context, db *gorm.DB, messageID uint) ([]domain.JobFailure, error) {
	var out []domain.JobFailure
	err := db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}
