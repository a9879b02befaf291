package domain

import (
	"context"
	"time"
)

// Kind selects the outbound message template.
type Kind string

const (
	KindPaymentSucceeded      Kind = "paymentSucceeded"
	KindPaymentFailed         Kind = "paymentFailed"
	KindSubscriptionCreated   Kind = "subscriptionCreated"
	KindSubscriptionUpdated   Kind = "subscriptionUpdated"
	KindSubscriptionCancelled Kind = "subscriptionCancelled"
)

// Message carries kind-specific data for a templated notification.
type Message struct {
	Kind           Kind
	RecipientEmail string
	RecipientName  string

	Amount   int64
	Currency string

	InvoiceID  string
	InvoiceURL string

	PlanName string

	RetryCount     int
	NextRetryAt    *time.Time
	DaysUntilRetry int
}

// Sender delivers outcome messages. Delivery failures are the caller's to
// log; they must never propagate past the orchestrator.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
