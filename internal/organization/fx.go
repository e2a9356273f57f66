package organization

import (
	"github.com/flowglad/flowglad/internal/organization/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("organization",
	fx.Provide(repository.Provide),
)
