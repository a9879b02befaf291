package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloop/billing/internal/subscriber/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByProcessorCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Subscriber, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, domain.ErrNotFound
	}

	var item domain.Subscriber
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, processor_customer_id, processor_subscription_id,
			plan_name, retry_count, next_retry_at, created_at, updated_at
		 FROM subscribers
		 WHERE processor_customer_id = ?
		 LIMIT 1`,
		customerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Subscriber, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, domain.ErrNotFound
	}

	var item domain.Subscriber
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, processor_customer_id, processor_subscription_id,
			plan_name, retry_count, next_retry_at, created_at, updated_at
		 FROM subscribers
		 WHERE processor_subscription_id = ?
		 LIMIT 1`,
		subscriptionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *repo) UpdateRetryState(ctx context.Context, db *gorm.DB, id snowflake.ID, prevRetryCount int, retryCount int, nextRetryAt *time.Time) (bool, error) {
	if id == 0 || retryCount < 0 {
		return false, domain.ErrInvalidUpdate
	}

	res := db.WithContext(ctx).Exec(
		`UPDATE subscribers
		 SET retry_count = ?, next_retry_at = ?, updated_at = ?
		 WHERE id = ? AND retry_count = ?`,
		retryCount,
		nextRetryAt,
		time.Now().UTC(),
		id,
		prevRetryCount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ResetRetryState(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidUpdate
	}

	return db.WithContext(ctx).Exec(
		`UPDATE subscribers
		 SET retry_count = 0, next_retry_at = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repo) ListDueRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Subscriber, error) {
	if limit <= 0 {
		limit = 50
	}

	var items []domain.Subscriber
	err := db.WithContext(ctx).Raw(
		`SELECT id, email, name, processor_customer_id, processor_subscription_id,
			plan_name, retry_count, next_retry_at, created_at, updated_at
		 FROM subscribers
		 WHERE next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC
		 LIMIT ?`,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
