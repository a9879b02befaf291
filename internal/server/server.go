package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postloop/billing/internal/config"
	"github.com/postloop/billing/internal/observability"
	"github.com/postloop/billing/internal/observability/logger"
	"github.com/postloop/billing/internal/observability/tracing"
)

// NewEngine assembles the HTTP surface: the webhook ingress endpoint plus
// health and metrics.
func NewEngine(cfg config.Config, obsCfg observability.Config, webhooks *WebhookHandler) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		tracing.GinMiddleware(),
		logger.GinMiddleware(logger.MiddlewareConfig{
			Debug:           obsCfg.Debug(),
			ErrorClassifier: classifyError,
		}),
	)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": cfg.AppName})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.POST("/webhooks/stripe", webhooks.HandleStripe)

	return engine
}
