// Message HTTP handlers.
//
// This file exposes REST endpoints for chatroom messages:
//   - POST /chatroom/{id}/message    (accept a message for async generation)
//   - GET  /chatroom/{id}/messages   (list messages, optionally limited)
//
// Sending never waits on the generation backend. The reply is written
// later by the worker pool and shows up on the message's response field.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a live record exists
// for (user, chatroom, key), the handler returns the recorded message and
// sets `Idempotency-Replayed: true`. Nothing is enqueued again.
package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/http/middleware"
	"github.com/tbourn/go-chatroom-ai/internal/services"
	"github.com/tbourn/go-chatroom-ai/internal/utils"
)

// Message processing states reported to the client.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for sending a user message.
type SendMessageRequest struct {
	// Message is the user prompt. It must be non-empty after trimming.
	Message string `json:"message" binding:"required" example:"Suggest a three day itinerary for Lisbon"`
}

// SendMessageResponse acknowledges an accepted message.
type SendMessageResponse struct {
	Message *domain.Message `json:"message"`
	// Status is "processing" until the reply is stored.
	Status string `json:"status" example:"processing"`
}

// ListMessagesResponse contains a chatroom's messages in creation order.
type ListMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent converts CRLF/CR to LF, collapses long blank runs and
// trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Stores the message and queues AI generation. Returns immediately;
// @Description the reply appears on the message once a worker has produced it.
// @Description Counts against the daily quota unless it replays an Idempotency-Key.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header    string                          false  "Key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path      int                             true   "Chatroom ID"           minimum(1)
// @Param       body             body      handlers.SendMessageRequest     true   "User message"
// @Success     202              {object}  handlers.SendMessageResponse    "Accepted for generation"
// @Header      202              {string}  Idempotency-Replayed            "true when served from a previous request"
// @Failure     400              {object}  handlers.ErrorResponse          "Bad request"
// @Failure     401              {object}  handlers.ErrorResponse          "Unauthorized"
// @Failure     404              {object}  handlers.ErrorResponse          "Chatroom not found"
// @Failure     429              {object}  handlers.ErrorResponse          "Daily quota exhausted"
// @Failure     500              {object}  handlers.ErrorResponse          "Internal error"
// @Router      /chatroom/{id}/message [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	roomID, valid := pathID(c)
	if !valid {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}
	text := sanitizeContent(req.Message)
	idemKey, _ := middleware.GetIdempotencyKey(c)

	res, err := h.msgs.Send(c.Request.Context(), uid, roomID, text, idemKey)
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeMessageTooLong, "message too long")
		return
	case errors.Is(err, services.ErrChatroomNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chatroom not found")
		return
	case err != nil:
		internalError(c, err, "send message")
		return
	}

	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	status := StatusProcessing
	if res.Message.Response != nil {
		status = StatusCompleted
	}
	ok(c, http.StatusAccepted, SendMessageResponse{Message: res.Message, Status: status})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chatroom
// @Description Returns the chatroom's messages oldest first. Pending replies have a null response.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       id     path      int  true   "Chatroom ID"                 minimum(1)
// @Param       limit  query     int  false  "Maximum messages to return"  minimum(1) maximum(500) default(100)
// @Success     200    {object}  handlers.ListMessagesResponse
// @Failure     400    {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401    {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404    {object}  handlers.ErrorResponse  "Chatroom not found"
// @Failure     500    {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatroom/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	const (
		defaultLimit = 100
		maxLimit     = 500
	)
	uid, found := currentUser(c)
	if !found {
		return
	}
	roomID, valid := pathID(c)
	if !valid {
		return
	}
	limit := utils.Limit(c.Query("limit"), defaultLimit, maxLimit)

	msgs, err := h.msgs.List(c.Request.Context(), uid, roomID, limit)
	switch {
	case errors.Is(err, services.ErrChatroomNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chatroom not found")
	case err != nil:
		internalError(c, err, "list messages")
	default:
		if msgs == nil {
			msgs = []domain.Message{}
		}
		ok(c, http.StatusOK, ListMessagesResponse{Messages: msgs})
	}
}
