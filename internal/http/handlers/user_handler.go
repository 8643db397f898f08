package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/services"
)

// UserResponse wraps the caller's profile.
type UserResponse struct {
	User *domain.User `json:"user"`
}

// Me godoc
// @ID          getMe
// @Summary     Current user
// @Description Returns the authenticated user's profile, including the subscription tier.
// @Tags        Users
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.UserResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /user/me [get]
func (h *Handlers) Me(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	u, err := h.users.Get(c.Request.Context(), uid)
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case err != nil:
		internalError(c, err, "get user")
	default:
		ok(c, http.StatusOK, UserResponse{User: u})
	}
}
