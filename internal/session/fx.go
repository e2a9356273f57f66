package session

import (
	"github.com/flowglad/flowglad/internal/session/store"
	"go.uber.org/fx"
)

var Module = fx.Module("session",
	fx.Provide(
		NewManager,
		store.Provide,
	),
)
