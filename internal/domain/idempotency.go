package domain

import "time"

// Idempotency represents a recorded result of a previously processed
// send-message request, keyed by (user_id, chatroom_id, key). A retry with the
// same key returns the originally created message without consuming quota or
// enqueueing a second generation job.
type Idempotency struct {
	ID         string    `gorm:"size:36;not null;primaryKey"`
	UserID     uint      `gorm:"not null;uniqueIndex:ux_user_room_key,priority:1"`
	ChatroomID uint      `gorm:"not null;uniqueIndex:ux_user_room_key,priority:2"`
	Key        string    `gorm:"size:128;not null;uniqueIndex:ux_user_room_key,priority:3"`
	MessageID  uint      `gorm:"not null"`
	Status     int       `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
