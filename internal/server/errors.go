package server

import (
	"errors"
	"net/http"

	webhookdomain "github.com/postloop/billing/internal/webhook/domain"
)

// mapError fixes the webhook endpoint's status contract: rejected signatures
// and malformed payloads are the caller's fault, anything else is ours and
// must trigger provider redelivery.
func mapError(err error) int {
	switch {
	case errors.Is(err, webhookdomain.ErrInvalidSignature),
		errors.Is(err, webhookdomain.ErrInvalidPayload),
		errors.Is(err, webhookdomain.ErrInvalidEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// classifyError labels request-log entries without leaking error internals.
func classifyError(err error) (string, string) {
	switch {
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		return "auth", "invalid_signature"
	case errors.Is(err, webhookdomain.ErrInvalidPayload):
		return "validation", "invalid_payload"
	case errors.Is(err, webhookdomain.ErrInvalidEvent):
		return "validation", "invalid_event"
	default:
		return "internal", "internal_error"
	}
}
