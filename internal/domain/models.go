// Package domain defines the persistence models for users, chatrooms,
// messages, subscriptions and the billing/worker journals. These types are
// mapped with GORM and form the core data layer of the chatroom service.
package domain

import (
	"time"
)

// Tier is a user's subscription tier. It selects the daily message quota.
type Tier string

const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t == TierBasic || t == TierPro }

// User is an authenticated subscriber. SubscriptionTier is changed only by
// the billing state machine or by an operator.
//
// Fields:
//   - ID: auto-increment primary key, carried as the JWT "id" claim.
//   - Mobile: unique login identifier.
//   - SubscriptionTier: "basic" (default) or "pro".
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID               uint      `json:"id"                gorm:"primaryKey"`
	Mobile           string    `json:"mobile"            gorm:"size:32;not null;uniqueIndex"`
	SubscriptionTier Tier      `json:"subscription_tier" gorm:"size:16;not null;default:basic"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Chatroom is a conversation owned by a single user.
type Chatroom struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	UserID    uint      `json:"user_id"    gorm:"not null;index:idx_user_chatrooms"`
	Name      string    `json:"name"       gorm:"size:255;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages is populated only by detail reads, in creation order.
	Messages []Message `json:"messages,omitempty" gorm:"foreignKey:ChatroomID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chatroom.
func (Chatroom) TableName() string { return "chatrooms" }

// Message is a user utterance and, once generated, the AI reply to it.
//
// Response transitions from nil to non-nil at most once. Writers go through
// repo.SetMessageResponse, which only updates rows whose response is still
// NULL.
type Message struct {
	ID            uint      `json:"id"              gorm:"primaryKey"`
	ChatroomID    uint      `json:"chatroom_id"     gorm:"not null;index:idx_chatroom_msgs,priority:1"`
	UserID        uint      `json:"user_id"         gorm:"not null;index"`
	Text          string    `json:"text"            gorm:"type:text;not null"`
	Response      *string   `json:"response"        gorm:"type:text"`
	IsUserMessage bool      `json:"is_user_message" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"      gorm:"index:idx_chatroom_msgs,priority:2"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// SubscriptionStatus mirrors the provider's lifecycle states we act on.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusUnpaid   SubscriptionStatus = "unpaid"
)

// Subscription is the local record of a provider subscription. A user may
// have several over time; the most recently created one is current.
// ExternalSubscriptionID is unique so concurrent webhook deliveries cannot
// create duplicates.
type Subscription struct {
	ID                     uint               `json:"id"                       gorm:"primaryKey"`
	UserID                 uint               `json:"user_id"                  gorm:"not null;index"`
	ExternalSubscriptionID string             `json:"external_subscription_id" gorm:"size:255;not null;uniqueIndex"`
	Status                 SubscriptionStatus `json:"status"                   gorm:"size:32;not null"`
	Tier                   Tier               `json:"tier"                     gorm:"size:16;not null"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// WebhookEvent journals a verified provider delivery. (Provider,
// ProviderEventID) is unique, so redeliveries are recorded once.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey"`
	Provider        string     `gorm:"size:32;not null;uniqueIndex:ux_provider_event,priority:1"`
	ProviderEventID string     `gorm:"size:255;not null;uniqueIndex:ux_provider_event,priority:2"`
	EventType       string     `gorm:"size:128;not null;index"`
	ProcessedAt     *time.Time
	ProcessingError string `gorm:"type:text"`
	CreatedAt       time.Time
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }

// Failure reasons recorded on JobFailure.
const (
	FailureExhausted      = "exhausted"
	FailureInvalidPayload = "invalid_payload"
	FailurePermanent      = "permanent"
)

// JobFailure is the terminal record of a generation job that will not be
// retried again.
type JobFailure struct {
	ID         uint   `gorm:"primaryKey"`
	JobID      string `gorm:"size:64;not null;uniqueIndex"`
	MessageID  uint   `gorm:"index"`
	ChatroomID uint
	Attempts   int    `gorm:"not null"`
	LastError  string `gorm:"type:text"`
	Reason     string `gorm:"size:32;not null"`
	CreatedAt  time.Time
}

// TableName returns the database table name for JobFailure.
func (JobFailure) TableName() string { return "job_failures" }
