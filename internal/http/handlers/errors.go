// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. Generic codes mirror HTTP status semantics. Domain codes
// cover outcomes a status alone cannot convey, such as a spent daily quota
// (429 quota_exceeded) versus the edge limiter (429 too_many_requests).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "chatroom not found"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeQuotaExceeded      = "quota_exceeded"
	ErrCodeMessageTooLong     = "message_too_long"
	ErrCodeInvalidSignature   = "invalid_signature"
	ErrCodeInvalidEvent       = "invalid_event"
	ErrCodeBillingUnavailable = "billing_unavailable"
)
