package ledger

import (
	"github.com/flowglad/flowglad/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(service.New),
)
