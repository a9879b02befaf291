package processor

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/postloop/billing/internal/config"
	"github.com/postloop/billing/internal/processor/domain"
	"github.com/postloop/billing/internal/processor/stripeclient"
)

var Module = fx.Module("processor",
	fx.Provide(
		func(cfg config.Config, log *zap.Logger) (domain.Client, error) {
			return stripeclient.New(cfg.StripeAPIKey, log)
		},
	),
)
