package stripe_test

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

	webhookdomain "github.com/postloop/billing/internal/webhook/domain"
	"github.com/postloop/billing/internal/webhook/stripe"
)

const testSecret = "whsec_test"

func signPayload(t *testing.T, secret string, payload []byte) http.Header {
	t.Helper()

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(timestamp + "." + string(payload))); err != nil {
		t.Fatalf("sign payload: %v", err)
	}
	signature := hex.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", timestamp, signature))
	return headers
}

func newAdapter(t *testing.T) *stripe.Adapter {
	t.Helper()

	adapter, err := stripe.NewAdapter(testSecret)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	adapter := newAdapter(t)
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_failed"}`)

	if err := adapter.Verify(context.Background(), payload, signPayload(t, testSecret, payload)); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	adapter := newAdapter(t)
	payload := []byte(`{"id":"evt_1"}`)

	err := adapter.Verify(context.Background(), payload, signPayload(t, "whsec_other", payload))
	if !errors.Is(err, webhookdomain.ErrInvalidSignature) {
		t.Fatalf("verify err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	adapter := newAdapter(t)
	payload := []byte(`{"id":"evt_1","amount":100}`)
	headers := signPayload(t, testSecret, payload)

	tampered := []byte(`{"id":"evt_1","amount":999}`)
	err := adapter.Verify(context.Background(), tampered, headers)
	if !errors.Is(err, webhookdomain.ErrInvalidSignature) {
		t.Fatalf("verify err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	adapter := newAdapter(t)

	err := adapter.Verify(context.Background(), []byte(`{}`), http.Header{})
	if !errors.Is(err, webhookdomain.ErrInvalidSignature) {
		t.Fatalf("verify err = %v, want ErrInvalidSignature", err)
	}
}

func TestParseInvoicePaymentFailed(t *testing.T) {
	adapter := newAdapter(t)
	payload := []byte(`{
		"id": "evt_1",
		"type": "invoice.payment_failed",
		"created": 1767225600,
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_1",
			"subscription": "sub_1",
			"payment_intent": "pi_1",
			"amount_due": 2900,
			"currency": "usd"
		}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if event.Kind != webhookdomain.EventInvoicePaymentFailed {
		t.Fatalf("kind = %s", event.Kind)
	}
	if event.CustomerID != "cus_1" || event.InvoiceID != "in_1" || event.PaymentIntentID != "pi_1" {
		t.Fatalf("identifiers = %+v", event)
	}
	if event.AmountDue != 2900 || event.Currency != "USD" {
		t.Fatalf("amount = %d %s", event.AmountDue, event.Currency)
	}
}

func TestParsePaymentMethodAttached(t *testing.T) {
	adapter := newAdapter(t)
	payload := []byte(`{
		"id": "evt_2",
		"type": "payment_method.attached",
		"data": {"object": {"id": "pm_1", "type": "card", "customer": "cus_1"}}
	}`)

	event, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Kind != webhookdomain.EventPaymentMethodAttached {
		t.Fatalf("kind = %s", event.Kind)
	}
	if event.PaymentMethodID != "pm_1" || event.PaymentMethodKind != "card" {
		t.Fatalf("method = %+v", event)
	}
}

func TestParseSubscriptionEvents(t *testing.T) {
	adapter := newAdapter(t)
	cases := map[string]webhookdomain.EventKind{
		"customer.subscription.created": webhookdomain.EventSubscriptionCreated,
		"customer.subscription.updated": webhookdomain.EventSubscriptionUpdated,
		"customer.subscription.deleted": webhookdomain.EventSubscriptionDeleted,
	}
	for stripeType, wantKind := range cases {
		payload := []byte(fmt.Sprintf(`{
			"id": "evt_3",
			"type": %q,
			"data": {"object": {"id": "sub_1", "customer": "cus_1", "plan": {"nickname": "Creator"}}}
		}`, stripeType))

		event, err := adapter.Parse(context.Background(), payload)
		if err != nil {
			t.Fatalf("%s: %v", stripeType, err)
		}
		if event.Kind != wantKind {
			t.Fatalf("%s: kind = %s, want %s", stripeType, event.Kind, wantKind)
		}
		if event.PlanName != "Creator" {
			t.Fatalf("%s: plan = %q", stripeType, event.PlanName)
		}
	}
}

func TestParseIgnoresUnhandledTypes(t *testing.T) {
	adapter := newAdapter(t)
	payload := []byte(`{"id": "evt_4", "type": "charge.refunded", "data": {"object": {}}}`)

	_, err := adapter.Parse(context.Background(), payload)
	if !errors.Is(err, webhookdomain.ErrEventIgnored) {
		t.Fatalf("parse err = %v, want ErrEventIgnored", err)
	}
}

func TestParseRejectsMalformedPayload(t *testing.T) {
	adapter := newAdapter(t)

	_, err := adapter.Parse(context.Background(), []byte(`{not json`))
	if !errors.Is(err, webhookdomain.ErrInvalidPayload) {
		t.Fatalf("parse err = %v, want ErrInvalidPayload", err)
	}

	_, err = adapter.Parse(context.Background(), []byte(`{"type":"invoice.payment_failed","data":{"object":{}}}`))
	if !errors.Is(err, webhookdomain.ErrInvalidEvent) {
		t.Fatalf("parse err = %v, want ErrInvalidEvent", err)
	}
}
