// Chatroom HTTP handlers.
//
// This file exposes REST endpoints for chatroom resources:
//   - POST /chatroom        (create)
//   - GET  /chatroom        (list, cached per user)
//   - GET  /chatroom/{id}   (detail with messages)
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/services"
)

//
// DTOs
//

// CreateChatroomRequest is the JSON payload for creating a chatroom.
type CreateChatroomRequest struct {
	// Name optionally sets the chatroom name; a default is used when empty.
	Name string `json:"name" example:"Trip planning"`
}

// ChatroomResponse wraps a single chatroom.
type ChatroomResponse struct {
	Chatroom *domain.Chatroom `json:"chatroom"`
}

// ChatroomListResponse wraps the user's chatrooms.
type ChatroomListResponse struct {
	Chatrooms []domain.Chatroom `json:"chatrooms"`
}

//
// Handlers
//

// CreateChatroom godoc
// @ID          createChatroom
// @Summary     Create a chatroom
// @Description Creates a chatroom owned by the caller. An empty name becomes "New chatroom".
// @Tags        Chatrooms
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CreateChatroomRequest  false  "Chatroom name"
// @Success     201   {object}  handlers.ChatroomResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401   {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatroom [post]
func (h *Handlers) CreateChatroom(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}

	var req CreateChatroomRequest
	// An empty body is allowed; it yields the default name.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), uid, req.Name)
	if err != nil {
		internalError(c, err, "create chatroom")
		return
	}
	ok(c, http.StatusCreated, ChatroomResponse{Chatroom: room})
}

// ListChatrooms godoc
// @ID          listChatrooms
// @Summary     List chatrooms
// @Description Returns the caller's chatrooms, newest first. Served from cache when warm.
// @Tags        Chatrooms
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.ChatroomListResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatroom [get]
func (h *Handlers) ListChatrooms(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	rooms, err := h.rooms.List(c.Request.Context(), uid)
	if err != nil {
		internalError(c, err, "list chatrooms")
		return
	}
	if rooms == nil {
		rooms = []domain.Chatroom{}
	}
	ok(c, http.StatusOK, ChatroomListResponse{Chatrooms: rooms})
}

// GetChatroom godoc
// @ID          getChatroom
// @Summary     Get a chatroom
// @Description Returns one of the caller's chatrooms with its messages in creation order.
// @Tags        Chatrooms
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      int  true  "Chatroom ID"  minimum(1)
// @Success     200  {object}  handlers.ChatroomResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "Chatroom not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chatroom/{id} [get]
func (h *Handlers) GetChatroom(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}
	room, err := h.rooms.Get(c.Request.Context(), uid, id)
	switch {
	case errors.Is(err, services.ErrChatroomNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chatroom not found")
	case err != nil:
		internalError(c, err, "get chatroom")
	default:
		ok(c, http.StatusOK, ChatroomResponse{Chatroom: room})
	}
}
