// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file enforces the per-tier daily message allowance on send routes. It
// runs after Authenticate and IdempotencyValidator: a replay of an already
// accepted message is served without consuming allowance.
package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chatroom-ai/internal/quota"
)

// Admitter decides whether a user may send one more message.
type Admitter interface {
	Admit(ctx context.Context, userID uint) (quota.Decision, error)
}

// Quota returns a middleware that admits or rejects the request against the
// caller's allowance and reports it in the RateLimit-* headers.
//
// Denied requests get 429 with code "quota_exceeded" and the deny reason as
// the message. An admission error (tier lookup, store outage) is a 500.
func Quota(a Admitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		uid, _ := UserID(c)

		d, err := a.Admit(c.Request.Context(), uid)
		if err != nil {
			LoggerFrom(c).Error().Err(err).Uint("user_id", uid).Msg("quota admission failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "internal_error",
				"message":    "internal server error",
			})
			return
		}

		reset := strconv.FormatInt(int64(math.Ceil(d.ResetAfter.Seconds())), 10)
		h := c.Writer.Header()
		h.Set("RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		h.Set("RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		h.Set("RateLimit-Reset", reset)

		if !d.Allowed {
			h.Set("Retry-After", reset)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"request_id": h.Get(requestIDHeader),
				"code":       "quota_exceeded",
				"message":    d.Reason,
			})
			return
		}
		c.Next()
	}
}
