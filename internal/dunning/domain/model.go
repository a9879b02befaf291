package domain

import (
	"context"
	"errors"

	webhookdomain "github.com/postloop/billing/internal/webhook/domain"
)

// Recovery paths reported to metrics. A subscriber is either current or has
// a retry pending; the distinction is derived from next_retry_at rather than
// stored as a separate state column.
const (
	RecoveryPathAlternateMethod = "alternate_method"
	RecoveryPathMethodAttached  = "method_attached"
	RecoveryPathScheduledRetry  = "scheduled_retry"
	RecoveryPathInvoicePaid     = "invoice_paid"
)

var (
	ErrInvalidEvent = errors.New("invalid_dunning_event")
)

// Service is the dunning orchestrator. ProcessEvent dispatches a verified
// event by kind; transient processor and store failures are logged and
// swallowed so a webhook delivery never fails on a degraded dependency.
type Service interface {
	ProcessEvent(ctx context.Context, event *webhookdomain.PaymentEvent) error

	// RunDueRetries attempts settlement for subscribers whose scheduled
	// retry has come due. Returns the number of subscribers examined.
	RunDueRetries(ctx context.Context, batchSize int) (int, error)
}
