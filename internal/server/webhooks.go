package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	webhookdomain "github.com/postloop/billing/internal/webhook/domain"
)

// maxWebhookBody caps payload reads; Stripe events are far smaller.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	ingress webhookdomain.Service
}

func NewWebhookHandler(ingress webhookdomain.Service) *WebhookHandler {
	return &WebhookHandler{ingress: ingress}
}

// HandleStripe receives a signed Stripe delivery. A 2xx acknowledges the
// event; 4xx tells Stripe the delivery itself is bad; 5xx requests
// redelivery.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		_ = c.Error(webhookdomain.ErrInvalidPayload)
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.ingress.IngestWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil && !errors.Is(err, webhookdomain.ErrEventIgnored) {
		_ = c.Error(err)
		c.JSON(mapError(err), gin.H{"error": classifyCode(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func classifyCode(err error) string {
	_, code := classifyError(err)
	return code
}
