package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	webhookdomain "github.com/postloop/billing/internal/webhook/domain"
)

// Adapter verifies and parses Stripe webhook deliveries into canonical events.
type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) (*Adapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	return &Adapter{webhookSecret: webhookSecret}, nil
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return webhookdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return webhookdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return webhookdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*webhookdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "invoice.payment_failed":
		return a.parseInvoice(event, payload, webhookdomain.EventInvoicePaymentFailed)
	case "invoice.payment_succeeded":
		return a.parseInvoice(event, payload, webhookdomain.EventInvoicePaymentSucceeded)
	case "payment_method.attached":
		return a.parsePaymentMethod(event, payload)
	case "customer.subscription.created":
		return a.parseSubscription(event, payload, webhookdomain.EventSubscriptionCreated)
	case "customer.subscription.updated":
		return a.parseSubscription(event, payload, webhookdomain.EventSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, webhookdomain.EventSubscriptionDeleted)
	default:
		return nil, webhookdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	PaymentIntent string `json:"payment_intent"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
	Created       int64  `json:"created"`
}

type stripePaymentMethod struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Customer string `json:"customer"`
	Created  int64  `json:"created"`
}

type stripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Created  int64  `json:"created"`
	Plan     struct {
		Nickname string `json:"nickname"`
	} `json:"plan"`
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte, kind webhookdomain.EventKind) (*webhookdomain.PaymentEvent, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(inv.ID) == "" || strings.TrimSpace(inv.Customer) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	return &webhookdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Kind:            kind,
		CustomerID:      inv.Customer,
		SubscriptionID:  inv.Subscription,
		InvoiceID:       inv.ID,
		PaymentIntentID: inv.PaymentIntent,
		AmountDue:       inv.AmountDue,
		Currency:        strings.ToUpper(strings.TrimSpace(inv.Currency)),
		OccurredAt:      timestamp(inv.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parsePaymentMethod(event stripeEvent, payload []byte) (*webhookdomain.PaymentEvent, error) {
	var method stripePaymentMethod
	if err := json.Unmarshal(event.Data.Object, &method); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(method.ID) == "" || strings.TrimSpace(method.Customer) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	return &webhookdomain.PaymentEvent{
		Provider:          "stripe",
		ProviderEventID:   event.ID,
		Kind:              webhookdomain.EventPaymentMethodAttached,
		CustomerID:        method.Customer,
		PaymentMethodID:   method.ID,
		PaymentMethodKind: strings.TrimSpace(method.Type),
		OccurredAt:        timestamp(method.Created, event.Created),
		RawPayload:        payload,
	}, nil
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, kind webhookdomain.EventKind) (*webhookdomain.PaymentEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, webhookdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(sub.ID) == "" || strings.TrimSpace(sub.Customer) == "" {
		return nil, webhookdomain.ErrInvalidEvent
	}

	return &webhookdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Kind:            kind,
		CustomerID:      sub.Customer,
		SubscriptionID:  sub.ID,
		PlanName:        strings.TrimSpace(sub.Plan.Nickname),
		OccurredAt:      timestamp(sub.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
