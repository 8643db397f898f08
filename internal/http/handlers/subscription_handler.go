// Subscription HTTP handlers.
//
//   - POST /subscribe/pro         (start a hosted checkout for the Pro plan)
//   - GET  /subscription/status   (current tier and active subscription)
//
// Tier changes themselves arrive asynchronously through the billing webhook.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-ai/internal/services"
)

// SubscribePro godoc
// @ID          subscribePro
// @Summary     Start a Pro checkout
// @Description Creates a hosted checkout session. Redirect the user to the returned URL.
// @Tags        Subscriptions
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  billing.CheckoutSession
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     503  {object}  handlers.ErrorResponse  "Billing not configured"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /subscribe/pro [post]
func (h *Handlers) SubscribePro(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	sess, err := h.subs.Subscribe(c.Request.Context(), uid)
	switch {
	case errors.Is(err, services.ErrBillingUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeBillingUnavailable, "billing is not available")
	case err != nil:
		internalError(c, err, "create checkout")
	default:
		ok(c, http.StatusOK, sess)
	}
}

// SubscriptionStatus godoc
// @ID          subscriptionStatus
// @Summary     Subscription status
// @Description Returns the caller's tier and, when present, the active subscription.
// @Tags        Subscriptions
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.SubscriptionStatus
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /subscription/status [get]
func (h *Handlers) SubscriptionStatus(c *gin.Context) {
	uid, found := currentUser(c)
	if !found {
		return
	}
	st, err := h.subs.Status(c.Request.Context(), uid)
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case err != nil:
		internalError(c, err, "subscription status")
	default:
		ok(c, http.StatusOK, st)
	}
}
