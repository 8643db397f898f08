// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer authentication. A token is read from the
// Authorization header ("Bearer <jwt>") or, for browser clients, from the
// "token" cookie. The token's id claim must name an existing user; the id is
// then stored in the Gin context for handlers, the quota middleware and the
// request-scoped logger.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ctxKeyUserID holds the authenticated user id (uint).
	ctxKeyUserID = "userID"
	// TokenCookie is the cookie consulted when no Authorization header is sent.
	TokenCookie = "token"
)

// TokenParser verifies a raw token and returns the user id it carries.
type TokenParser interface {
	Parse(raw string) (uint, error)
}

// UserChecker reports whether a user id still names a user.
type UserChecker interface {
	Exists(ctx context.Context, id uint) (bool, error)
}

// UserID returns the authenticated user id set by Authenticate.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

// SetUserID stores id as the authenticated user. Tests and internal callers
// use it to bypass token parsing.
func SetUserID(c *gin.Context, id uint) {
	c.Set(ctxKeyUserID, id)
	l := LoggerFrom(c).With().Uint("user_id", id).Logger()
	c.Set(ctxKeyLogger, &l)
}

// bearerToken extracts the token from the Authorization header or the token
// cookie. The header wins when both are present.
func bearerToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		scheme, tok, found := strings.Cut(h, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if v, err := c.Cookie(TokenCookie); err == nil {
		return strings.TrimSpace(v)
	}
	return ""
}

// Authenticate rejects requests without a valid token for an existing user
// with 401. A failing user lookup is a 500.
func Authenticate(tokens TokenParser, users UserChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		id, err := tokens.Parse(raw)
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}
		exists, err := users.Exists(c.Request.Context(), id)
		if err != nil {
			LoggerFrom(c).Error().Err(err).Uint("user_id", id).Msg("user lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "internal_error",
				"message":    "internal server error",
			})
			return
		}
		if !exists {
			abortUnauthorized(c, "user no longer exists")
			return
		}
		SetUserID(c, id)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
