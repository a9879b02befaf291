package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/postloop/billing/internal/clock"
	"github.com/postloop/billing/internal/webhook"
	webhookdomain "github.com/postloop/billing/internal/webhook/domain"
	webhookstripe "github.com/postloop/billing/internal/webhook/stripe"
)

const testSecret = "whsec_test"

type recordingDunning struct {
	events []*webhookdomain.PaymentEvent
	err    error
}

func (d *recordingDunning) ProcessEvent(ctx context.Context, event *webhookdomain.PaymentEvent) error {
	d.events = append(d.events, event)
	return d.err
}

func (d *recordingDunning) RunDueRetries(ctx context.Context, batchSize int) (int, error) {
	return 0, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:webhook_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	err = db.Exec(`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		processor_customer_id TEXT,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME,
		UNIQUE (provider, provider_event_id)
	)`).Error
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func newIngress(t *testing.T, db *gorm.DB, dunning *recordingDunning) webhookdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(12)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	adapter, err := webhookstripe.NewAdapter(testSecret)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	return webhook.NewService(webhook.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)),
		Node:     node,
		Verifier: adapter,
		Parser:   adapter,
		Dunning:  dunning,
	})
}

func signedHeaders(t *testing.T, secret string, payload []byte) http.Header {
	t.Helper()

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(timestamp + "." + string(payload))); err != nil {
		t.Fatalf("sign payload: %v", err)
	}

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func failedInvoicePayload(eventID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "invoice.payment_failed",
		"data": {"object": {"id": "in_1", "customer": "cus_1", "amount_due": 2900, "currency": "usd"}}
	}`, eventID))
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM payment_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func TestIngestRecordsAndDispatches(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dunning := &recordingDunning{}
	ingress := newIngress(t, db, dunning)

	payload := failedInvoicePayload("evt_1")
	if err := ingress.IngestWebhook(ctx, payload, signedHeaders(t, testSecret, payload)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if len(dunning.events) != 1 {
		t.Fatalf("dispatched events = %d, want 1", len(dunning.events))
	}
	if dunning.events[0].Kind != webhookdomain.EventInvoicePaymentFailed {
		t.Fatalf("kind = %s", dunning.events[0].Kind)
	}
	if got := countEvents(t, db); got != 1 {
		t.Fatalf("ledger rows = %d, want 1", got)
	}

	var processed int64
	err := db.Raw(`SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`).Scan(&processed).Error
	if err != nil {
		t.Fatalf("count processed: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed rows = %d, want 1", processed)
	}
}

func TestIngestRejectsBadSignatureBeforeAnySideEffect(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dunning := &recordingDunning{}
	ingress := newIngress(t, db, dunning)

	payload := failedInvoicePayload("evt_1")
	err := ingress.IngestWebhook(ctx, payload, signedHeaders(t, "whsec_wrong", payload))
	if !errors.Is(err, webhookdomain.ErrInvalidSignature) {
		t.Fatalf("ingest err = %v, want ErrInvalidSignature", err)
	}

	if len(dunning.events) != 0 {
		t.Fatalf("dispatched events = %d, want 0", len(dunning.events))
	}
	if got := countEvents(t, db); got != 0 {
		t.Fatalf("ledger rows = %d, want 0", got)
	}
}

func TestIngestDuplicateDeliveryRecordsOnceDispatchesTwice(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dunning := &recordingDunning{}
	ingress := newIngress(t, db, dunning)

	payload := failedInvoicePayload("evt_dup")
	for i := 0; i < 2; i++ {
		if err := ingress.IngestWebhook(ctx, payload, signedHeaders(t, testSecret, payload)); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	if got := countEvents(t, db); got != 1 {
		t.Fatalf("ledger rows = %d, want 1", got)
	}
	if len(dunning.events) != 2 {
		t.Fatalf("dispatched events = %d, want 2 (handlers are idempotent)", len(dunning.events))
	}
}

func TestIngestSwallowsProcessingFailures(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dunning := &recordingDunning{err: errors.New("processor unavailable")}
	ingress := newIngress(t, db, dunning)

	payload := failedInvoicePayload("evt_err")
	if err := ingress.IngestWebhook(ctx, payload, signedHeaders(t, testSecret, payload)); err != nil {
		t.Fatalf("ingest err = %v, want nil after recording", err)
	}

	var processed int64
	err := db.Raw(`SELECT COUNT(*) FROM payment_events WHERE processed_at IS NOT NULL`).Scan(&processed).Error
	if err != nil {
		t.Fatalf("count processed: %v", err)
	}
	if processed != 0 {
		t.Fatalf("processed rows = %d, want 0 when handling failed", processed)
	}
}

func TestIngestIgnoresUnhandledEventTypes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	dunning := &recordingDunning{}
	ingress := newIngress(t, db, dunning)

	payload := []byte(`{"id": "evt_x", "type": "charge.refunded", "data": {"object": {}}}`)
	err := ingress.IngestWebhook(ctx, payload, signedHeaders(t, testSecret, payload))
	if !errors.Is(err, webhookdomain.ErrEventIgnored) {
		t.Fatalf("ingest err = %v, want ErrEventIgnored", err)
	}
	if len(dunning.events) != 0 || countEvents(t, db) != 0 {
		t.Fatalf("unhandled event produced side effects")
	}
}
