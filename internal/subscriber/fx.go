package subscriber

import (
	"go.uber.org/fx"

	"github.com/postloop/billing/internal/subscriber/repository"
)

var Module = fx.Module("subscriber",
	fx.Provide(
		repository.Provide,
	),
)
