package pricing

import (
	"github.com/flowglad/flowglad/internal/pricing/repository"
	"github.com/flowglad/flowglad/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
