package dunning

import (
	"go.uber.org/fx"

	"github.com/postloop/billing/internal/dunning/service"
)

var Module = fx.Module("dunning",
	fx.Provide(
		service.NewService,
	),
)
