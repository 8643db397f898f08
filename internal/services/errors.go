// Package services defines the business logic for chatrooms, messages,
// users and subscriptions. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrChatroomNotFound indicates that the requested chatroom does not exist
	// or is not owned by the current user.
	ErrChatroomNotFound = errors.New("chatroom not found")

	// ErrEmptyMessage is returned when a send request carries no text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when a message exceeds the configured rune limit.
	ErrTooLong = errors.New("message too long")

	// ErrUserNotFound indicates that the authenticated user no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidTier is returned for tiers other than basic and pro.
	ErrInvalidTier = errors.New("invalid subscription tier")

	// ErrBillingUnavailable is returned when checkout is requested but no
	// payment provider is configured.
	ErrBillingUnavailable = errors.New("billing is not configured")
)
