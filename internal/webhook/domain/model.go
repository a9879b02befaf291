package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventKind is the canonical, provider-neutral event classification.
type EventKind string

const (
	EventSubscriptionCreated     EventKind = "subscription.created"
	EventSubscriptionUpdated     EventKind = "subscription.updated"
	EventSubscriptionDeleted     EventKind = "subscription.deleted"
	EventInvoicePaymentSucceeded EventKind = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventKind = "invoice.payment_failed"
	EventPaymentMethodAttached   EventKind = "payment_method.attached"
)

// PaymentEvent is the canonical payment event parsed by the provider adapter.
// It is immutable once parsed; delivery is at-least-once, so downstream
// handling must tolerate duplicates.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Kind            EventKind

	CustomerID      string
	SubscriptionID  string
	InvoiceID       string
	PaymentIntentID string
	PaymentMethodID string

	// PaymentMethodKind carries the method type for payment_method.attached
	// events ("card" for the methods dunning cares about).
	PaymentMethodKind string

	AmountDue  int64
	Currency   string
	PlanName   string
	OccurredAt time.Time
	RawPayload []byte
}

// EventRecord is the append-only ledger of verified events. It is an audit
// trail, not a dedup gate: duplicate deliveries are recorded once but still
// dispatched.
type EventRecord struct {
	ID                  snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider            string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID     string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType           string         `json:"event_type" gorm:"type:text;not null"`
	ProcessorCustomerID string         `json:"processor_customer_id" gorm:"type:text"`
	Payload             datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt          time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt         *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
)

// Verifier checks the authenticity of a raw webhook delivery. This is the
// single trust boundary: no unverified payload may reach the orchestrator.
type Verifier interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
}

// Parser turns a verified raw payload into a canonical PaymentEvent.
type Parser interface {
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

// Service ingests a signed webhook delivery end to end.
type Service interface {
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error
}
