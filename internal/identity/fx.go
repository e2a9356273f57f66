package identity

import (
	"github.com/flowglad/flowglad/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity",
	fx.Provide(service.New),
)
