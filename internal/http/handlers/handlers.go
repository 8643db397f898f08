package handlers

import (
	"context"

	"github.com/tbourn/go-chatroom-ai/internal/billing"
	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/services"
)

//
// Service contracts (context-aware)
//

// ChatroomService defines chatroom operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatroomService interface {
	// Create starts a chatroom for userID; an empty name gets a default.
	Create(ctx context.Context, userID uint, name string) (*domain.Chatroom, error)
	// List returns the user's chatrooms, newest first.
	List(ctx context.Context, userID uint) ([]domain.Chatroom, error)
	// Get returns a chatroom owned by userID together with its messages.
	Get(ctx context.Context, userID, id uint) (*domain.Chatroom, error)
}

// MessageService accepts messages for asynchronous generation.
type MessageService interface {
	// Send stores text and enqueues its reply; idemKey may be empty.
	Send(ctx context.Context, userID, chatroomID uint, text, idemKey string) (*services.SendResult, error)
	// List returns a chatroom's messages in creation order.
	List(ctx context.Context, userID, chatroomID uint, limit int) ([]domain.Message, error)
}

// UserService reads the authenticated user's profile.
type UserService interface {
	Get(ctx context.Context, id uint) (*domain.User, error)
}

// SubscriptionService starts checkouts and reports the user's plan.
type SubscriptionService interface {
	Subscribe(ctx context.Context, userID uint) (*billing.CheckoutSession, error)
	Status(ctx context.Context, userID uint) (*services.SubscriptionStatus, error)
}

// WebhookProcessor verifies and applies a signed billing event.
type WebhookProcessor interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) error
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers. Nil members leave their
// routes unmounted by the router.
type Services struct {
	Chatrooms     ChatroomService
	Messages      MessageService
	Users         UserService
	Subscriptions SubscriptionService
	Webhooks      WebhookProcessor
}

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	rooms    ChatroomService
	msgs     MessageService
	users    UserService
	subs     SubscriptionService
	webhooks WebhookProcessor
}

// New constructs a Handlers bound to the given services.
func New(s Services) *Handlers {
	return &Handlers{
		rooms:    s.Chatrooms,
		msgs:     s.Messages,
		users:    s.Users,
		subs:     s.Subscriptions,
		webhooks: s.Webhooks,
	}
}
