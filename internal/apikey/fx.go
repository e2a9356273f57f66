package apikey

import (
	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	"github.com/flowglad/flowglad/internal/apikey/repository"
	"github.com/flowglad/flowglad/internal/apikey/service"
	"github.com/flowglad/flowglad/internal/apikey/verifier"
	"github.com/flowglad/flowglad/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey",
	fx.Provide(
		repository.Provide,
		service.New,
		verifier.NewLocal,
		verifier.NewRemote,
		provideVerifier,
	),
)

func provideVerifier(cfg config.Config, local *verifier.Local, remote *verifier.Remote) apikeydomain.Verifier {
	if cfg.KeyVerifierMode == "remote" && cfg.KeyVerifierEndpoint != "" {
		return remote
	}
	return local
}
