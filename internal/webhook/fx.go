package webhook

import (
	"go.uber.org/fx"

	"github.com/postloop/billing/internal/config"
	"github.com/postloop/billing/internal/webhook/domain"
	"github.com/postloop/billing/internal/webhook/stripe"
)

var Module = fx.Module("webhook",
	fx.Provide(
		func(cfg config.Config) (*stripe.Adapter, error) {
			return stripe.NewAdapter(cfg.StripeWebhookSecret)
		},
		func(a *stripe.Adapter) domain.Verifier { return a },
		func(a *stripe.Adapter) domain.Parser { return a },
		NewService,
	),
)
