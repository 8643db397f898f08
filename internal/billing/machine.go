// Package billing applies payment-provider webhook events to local
// subscription state.
//
// Every delivery is verified, journaled and dispatched by event type.
// Handlers are idempotent: providers redeliver on timeouts, and two copies
// of the same event may race. Checkout completion serializes on a lock named
// after the subscription and relies on the unique external id, so duplicates
// converge on one row.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
)

const (
	provider       = "stripe"
	metadataUserID = "userId"
)

var (
	// ErrInvalidSignature is returned when a delivery fails verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidEvent is returned for verified events whose payload cannot
	// be acted on. Redelivering them will not help.
	ErrInvalidEvent = errors.New("invalid webhook event")
)

// Machine is the subscription state machine.
type Machine struct {
	db       *gorm.DB
	verifier Verifier
	fetcher  SubscriptionFetcher
	locker   Locker
	handlers map[stripe.EventType]func(context.Context, zerolog.Logger, stripe.Event) error
}

// NewMachine wires a Machine.
func NewMachine(db *gorm.DB, v Verifier, f SubscriptionFetcher, l Locker) *Machine {
	m := &Machine{db: db, verifier: v, fetcher: f, locker: l}
	m.handlers = map[stripe.EventType]func(context.Context, zerolog.Logger, stripe.Event) error{
		"checkout.session.completed":    m.checkoutCompleted,
		"invoice.payment_succeeded":     m.paymentSucceeded,
		"invoice.payment_failed":        m.paymentFailed,
		"customer.subscription.deleted": m.subscriptionDeleted,
	}
	return m
}

// HandleEvent verifies a raw delivery and dispatches it.
func (m *Machine) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	ev, err := m.verifier.Verify(payload, signature)
	if err != nil {
		webhookEvents.WithLabelValues("unverified", "invalid_signature").Inc()
		return err
	}
	return m.Dispatch(ctx, ev)
}

// Dispatch journals a verified event and runs its handler. Unknown event
// types are acknowledged and ignored.
func (m *Machine) Dispatch(ctx context.Context, ev stripe.Event) error {
	lg := log.With().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Logger()
	if ev.Data == nil {
		return fmt.Errorf("%w: event has no data", ErrInvalidEvent)
	}

	first, err := repo.RecordWebhookEvent(ctx, m.db, provider, ev.ID, string(ev.Type))
	if err != nil {
		return fmt.Errorf("journal event %s: %w", ev.ID, err)
	}
	if !first {
		lg.Info().Msg("duplicate delivery")
	}

	h, ok := m.handlers[ev.Type]
	if !ok {
		lg.Debug().Msg("ignoring unhandled event type")
		webhookEvents.WithLabelValues(string(ev.Type), "ignored").Inc()
		m.markProcessed(ctx, lg, ev.ID, nil)
		return nil
	}

	herr := h(ctx, lg, ev)
	m.markProcessed(ctx, lg, ev.ID, herr)
	if herr != nil {
		webhookEvents.WithLabelValues(string(ev.Type), "error").Inc()
		return herr
	}
	webhookEvents.WithLabelValues(string(ev.Type), "ok").Inc()
	return nil
}

func (m *Machine) markProcessed(ctx context.Context, lg zerolog.Logger, eventID string, herr error) {
	if err := repo.MarkWebhookEventProcessed(ctx, m.db, provider, eventID, herr); err != nil {
		lg.Warn().Err(err).Msg("mark webhook event processed")
	}
}

func (m *Machine) checkoutCompleted(ctx context.Context, lg zerolog.Logger, ev stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &session); err != nil {
		return fmt.Errorf("%w: decode checkout session: %v", ErrInvalidEvent, err)
	}
	userID, err := strconv.ParseUint(session.Metadata[metadataUserID], 10, 64)
	if err != nil || userID == 0 {
		return fmt.Errorf("%w: checkout session %s has no %s metadata", ErrInvalidEvent, session.ID, metadataUserID)
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return fmt.Errorf("%w: checkout session %s has no subscription", ErrInvalidEvent, session.ID)
	}
	subID := session.Subscription.ID
	lg = lg.With().Str("subscription_id", subID).Uint64("user_id", userID).Logger()

	remote, err := m.fetcher.Fetch(ctx, subID)
	if err != nil {
		return err
	}

	return m.locker.WithLock(ctx, "subscription:"+subID, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sub := &domain.Subscription{
				UserID:                 uint(userID),
				ExternalSubscriptionID: subID,
				Status:                 statusFromStripe(remote.Status),
				Tier:                   domain.TierPro,
				CurrentPeriodEnd:       unixTime(remote.CurrentPeriodEnd),
			}
			_, created, err := repo.GetOrCreateSubscription(ctx, tx, sub)
			if err != nil {
				return err
			}
			if !created {
				lg.Info().Msg("subscription already recorded")
			}
			if err := repo.SetUserTier(ctx, tx, uint(userID), domain.TierPro); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("%w: user %d does not exist", ErrInvalidEvent, userID)
				}
				return err
			}
			lg.Info().Msg("user upgraded to pro")
			return nil
		})
	})
}

func (m *Machine) paymentSucceeded(ctx context.Context, lg zerolog.Logger, ev stripe.Event) error {
	inv, err := decodeInvoice(ev)
	if err != nil {
		return err
	}
	return m.updateStatus(ctx, lg, invoiceSubscriptionID(inv), domain.StatusActive, unixTime(inv.PeriodEnd))
}

func (m *Machine) paymentFailed(ctx context.Context, lg zerolog.Logger, ev stripe.Event) error {
	inv, err := decodeInvoice(ev)
	if err != nil {
		return err
	}
	return m.updateStatus(ctx, lg, invoiceSubscriptionID(inv), domain.StatusPastDue, nil)
}

// updateStatus applies a status change to a known subscription. Events for
// subscriptions we never recorded are logged and dropped.
func (m *Machine) updateStatus(ctx context.Context, lg zerolog.Logger, subID string, status domain.SubscriptionStatus, periodEnd *time.Time) error {
	if subID == "" {
		lg.Info().Msg("invoice without subscription, nothing to do")
		return nil
	}
	lg = lg.With().Str("subscription_id", subID).Logger()

	err := repo.UpdateSubscriptionStatus(ctx, m.db, subID, status, periodEnd)
	if errors.Is(err, repo.ErrNotFound) {
		lg.Info().Msg("unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	lg.Info().Str("status", string(status)).Msg("subscription status updated")
	return nil
}

func (m *Machine) subscriptionDeleted(ctx context.Context, lg zerolog.Logger, ev stripe.Event) error {
	var remote stripe.Subscription
	if err := json.Unmarshal(ev.Data.Raw, &remote); err != nil || remote.ID == "" {
		return fmt.Errorf("%w: decode subscription", ErrInvalidEvent)
	}
	lg = lg.With().Str("subscription_id", remote.ID).Logger()

	return m.locker.WithLock(ctx, "subscription:"+remote.ID, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sub, err := repo.GetSubscriptionByExternalID(ctx, tx, remote.ID)
			if errors.Is(err, repo.ErrNotFound) {
				lg.Info().Msg("unknown subscription, ignoring")
				return nil
			}
			if err != nil {
				return err
			}
			if err := repo.UpdateSubscriptionStatus(ctx, tx, remote.ID, domain.StatusCanceled, nil); err != nil {
				return err
			}

			others, err := repo.CountActiveSubscriptions(ctx, tx, sub.UserID, remote.ID)
			if err != nil {
				return err
			}
			if others > 0 {
				lg.Info().Int64("active", others).Msg("subscription canceled, user keeps pro")
				return nil
			}
			if err := repo.SetUserTier(ctx, tx, sub.UserID, domain.TierBasic); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return err
			}
			lg.Info().Uint("user_id", sub.UserID).Msg("subscription canceled, user downgraded to basic")
			return nil
		})
	})
}

func decodeInvoice(ev stripe.Event) (*stripe.Invoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: decode invoice: %v", ErrInvalidEvent, err)
	}
	return &inv, nil
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Subscription == nil {
		return ""
	}
	return inv.Subscription.ID
}

// statusFromStripe folds the provider's lifecycle into the states we store.
func statusFromStripe(s stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusIncomplete, "paused":
		return domain.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.StatusCanceled
	case stripe.SubscriptionStatusUnpaid:
		return domain.StatusUnpaid
	default:
		return domain.StatusActive
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
