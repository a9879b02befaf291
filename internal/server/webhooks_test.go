package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/postloop/billing/internal/config"
	"github.com/postloop/billing/internal/observability"
	"github.com/postloop/billing/internal/server"
	webhookdomain "github.com/postloop/billing/internal/webhook/domain"
)

type stubIngress struct {
	err      error
	payloads [][]byte
}

func (s *stubIngress) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	s.payloads = append(s.payloads, payload)
	return s.err
}

func newTestEngine(ingress webhookdomain.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return server.NewEngine(
		config.Config{AppName: "postloop-billing", HTTPAddr: ":0"},
		observability.Config{},
		server.NewWebhookHandler(ingress),
	)
}

func postWebhook(engine *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=aa")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestWebhookEndpointAcknowledgesHandledEvent(t *testing.T) {
	ingress := &stubIngress{}
	rec := postWebhook(newTestEngine(ingress), `{"id":"evt_1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(ingress.payloads) != 1 {
		t.Fatalf("ingress calls = %d, want 1", len(ingress.payloads))
	}
}

func TestWebhookEndpointAcknowledgesIgnoredEvent(t *testing.T) {
	ingress := &stubIngress{err: webhookdomain.ErrEventIgnored}
	rec := postWebhook(newTestEngine(ingress), `{"id":"evt_1"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for ignored event", rec.Code)
	}
}

func TestWebhookEndpointRejectsInvalidSignature(t *testing.T) {
	ingress := &stubIngress{err: webhookdomain.ErrInvalidSignature}
	rec := postWebhook(newTestEngine(ingress), `{"id":"evt_1"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid_signature") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestWebhookEndpointSurfacesInternalFailures(t *testing.T) {
	ingress := &stubIngress{err: errors.New("db down")}
	rec := postWebhook(newTestEngine(ingress), `{"id":"evt_1"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 to trigger redelivery", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	engine := newTestEngine(&stubIngress{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	engine := newTestEngine(&stubIngress{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
