package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-ai/internal/billing"
)

// HeaderStripeSignature carries the provider's HMAC over the raw body.
const HeaderStripeSignature = "Stripe-Signature"

// WebhookAck is returned once an event is applied or found to be a duplicate.
type WebhookAck struct {
	Received bool `json:"received" example:"true"`
}

// StripeWebhook godoc
// @ID          stripeWebhook
// @Summary     Billing webhook
// @Description Receives signed subscription lifecycle events. The raw body is
// @Description verified against Stripe-Signature before anything is applied.
// @Description A 5xx asks the provider to redeliver.
// @Tags        Billing
// @Accept      json
// @Produce     json
// @Param       Stripe-Signature  header    string  true  "Provider signature"
// @Success     200               {object}  handlers.WebhookAck
// @Failure     400               {object}  handlers.ErrorResponse  "Bad signature or malformed event"
// @Failure     500               {object}  handlers.ErrorResponse  "Processing failed"
// @Router      /webhook/stripe [post]
func (h *Handlers) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	err = h.webhooks.HandleEvent(c.Request.Context(), payload, c.GetHeader(HeaderStripeSignature))
	switch {
	case errors.Is(err, billing.ErrInvalidSignature):
		fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "webhook signature verification failed")
	case errors.Is(err, billing.ErrInvalidEvent):
		fail(c, http.StatusBadRequest, ErrCodeInvalidEvent, "webhook event rejected")
	case err != nil:
		internalError(c, err, "webhook processing")
	default:
		ok(c, http.StatusOK, WebhookAck{Received: true})
	}
}
