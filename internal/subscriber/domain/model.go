package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Subscriber holds the per-account billing state owned by this service.
// Invariant: RetryCount > 0 iff an unresolved failed-payment cycle is in
// progress; NextRetryAt is the date computed by the backoff policy for the
// current RetryCount at the time of the most recent failure.
type Subscriber struct {
	ID                      snowflake.ID `gorm:"primaryKey"`
	Email                   string       `gorm:"type:text;not null"`
	Name                    string       `gorm:"type:text"`
	ProcessorCustomerID     string       `gorm:"type:text;not null;uniqueIndex"`
	ProcessorSubscriptionID string       `gorm:"type:text;index"`
	PlanName                string       `gorm:"type:text"`
	RetryCount              int          `gorm:"not null;default:0"`
	NextRetryAt             *time.Time
	CreatedAt               time.Time `gorm:"not null"`
	UpdatedAt               time.Time `gorm:"not null"`
}

func (Subscriber) TableName() string { return "subscribers" }

var (
	ErrNotFound      = errors.New("subscriber_not_found")
	ErrInvalidUpdate = errors.New("invalid_retry_state_update")
)

// Repository is the subscriber record store consumed by the orchestrator.
type Repository interface {
	FindByProcessorCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Subscriber, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Subscriber, error)

	// UpdateRetryState sets retry_count and next_retry_at conditionally on the
	// previously read retry_count. It returns false when the row has moved on
	// (a concurrent delivery already applied an update).
	UpdateRetryState(ctx context.Context, db *gorm.DB, id snowflake.ID, prevRetryCount int, retryCount int, nextRetryAt *time.Time) (bool, error)

	// ResetRetryState unconditionally clears retry_count and next_retry_at.
	// Safe to run when nothing is pending.
	ResetRetryState(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	// ListDueRetries returns subscribers whose next_retry_at has elapsed.
	ListDueRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscriber, error)
}
