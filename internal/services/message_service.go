// Package services – MessageService
//
// MessageService accepts a user message, persists it and hands it to the
// generation queue. It never calls the generation backend itself, so the
// returned message always has a nil Response; clients poll the chatroom for
// the reply.
//
// Idempotency: when the client supplies a key, a replay for the same
// (user, chatroom, key) returns the originally recorded message without
// enqueueing again.

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/queue"
	"github.com/tbourn/go-chatroom-ai/internal/repo"
)

// Enqueuer is the part of queue.Queue the send path needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// SendResult is the outcome of Send.
type SendResult struct {
	Message *domain.Message
	// Replayed is true when an earlier request with the same idempotency
	// key produced Message.
	Replayed bool
}

// MessageService coordinates message persistence and job submission.
type MessageService struct {
	DB    *gorm.DB
	Queue Enqueuer

	// MaxMessageRunes caps accepted message length. Zero disables the check.
	MaxMessageRunes int
	// IdempotencyTTL is how long a key can be replayed.
	IdempotencyTTL time.Duration
}

// Send validates text, checks chatroom ownership, stores the message and
// enqueues its generation job.
//
// The row is committed before the job is enqueued so a worker never sees a
// job for a message it cannot read. If enqueueing fails the message stays
// without a response and the error is returned.
func (s *MessageService) Send(ctx context.Context, userID, chatroomID uint, text, idemKey string) (*SendResult, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.Int64("chatroom.id", int64(chatroomID)),
			attribute.Int64("user.id", int64(userID)),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(text) > s.MaxMessageRunes {
		return nil, ErrTooLong
	}

	if _, err := repo.GetChatroom(ctx, s.DB, chatroomID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatroomNotFound
		}
		return nil, err
	}

	if idemKey != "" {
		if prev, ok := s.replay(ctx, userID, chatroomID, idemKey); ok {
			span.SetAttributes(attribute.Bool("idempotency.replayed", true))
			return &SendResult{Message: prev, Replayed: true}, nil
		}
	}

	m, err := repo.CreateMessage(ctx, s.DB, chatroomID, userID, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create message")
		return nil, err
	}

	job := queue.Job{
		ID:         queue.JobIDForMessage(m.ID),
		MessageID:  m.ID,
		Text:       m.Text,
		ChatroomID: chatroomID,
	}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue")
		return nil, fmt.Errorf("enqueue message %d: %w", m.ID, err)
	}
	span.SetAttributes(attribute.Int64("message.id", int64(m.ID)))

	if idemKey != "" {
		ttl := s.IdempotencyTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		// A concurrent request with the same key may have won; both messages
		// exist and only the first is replayed later.
		if _, err := repo.CreateIdempotency(ctx, s.DB, userID, chatroomID, idemKey, m.ID, http.StatusAccepted, ttl); err != nil {
			log.Debug().Err(err).Str("idempotency_key", idemKey).Msg("idempotency record not stored")
		}
	}

	return &SendResult{Message: m}, nil
}

// HasReplay reports whether key has a live record for (user, chatroom).
func (s *MessageService) HasReplay(ctx context.Context, userID, chatroomID uint, key string) bool {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, chatroomID, key, time.Now().UTC())
	return err == nil && rec != nil
}

func (s *MessageService) replay(ctx context.Context, userID, chatroomID uint, key string) (*domain.Message, bool) {
	rec, err := repo.GetIdempotency(ctx, s.DB, userID, chatroomID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return nil, false
	}
	m, err := repo.GetMessage(ctx, s.DB, rec.MessageID)
	if err != nil {
		return nil, false
	}
	return m, true
}

// List returns up to limit messages of a chatroom in creation order. A
// non-positive limit returns all of them.
func (s *MessageService) List(ctx context.Context, userID, chatroomID uint, limit int) ([]domain.Message, error) {
	if _, err := repo.GetChatroom(ctx, s.DB, chatroomID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatroomNotFound
		}
		return nil, err
	}
	return repo.ListMessages(ctx, s.DB, chatroomID, limit)
}
