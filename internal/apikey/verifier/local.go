package verifier

import (
	"context"
	"strings"
	"time"

	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type LocalParams struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo apikeydomain.Repository
}

// Local resolves raw keys directly against the api_keys table. Test
// environments run this; production runs the remote verifier with this as
// grounding for its metadata schema.
type Local struct {
	db   *gorm.DB
	log  *zap.Logger
	repo apikeydomain.Repository
}

func NewLocal(p LocalParams) *Local {
	return &Local{db: p.DB, log: p.Log.Named("apikey.verifier"), repo: p.Repo}
}

func (v *Local) Verify(ctx context.Context, raw string) (*apikeydomain.VerificationResult, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, apikeydomain.ErrInvalidKey
	}
	prefixLivemode, ok := apikeydomain.LivemodeFromPrefix(trimmed)
	if !ok {
		return nil, apikeydomain.ErrInvalidKey
	}

	key, err := v.repo.FindByHash(ctx, v.db, apikeydomain.HashAPIKey(trimmed))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if key == nil || !key.IsActive || key.Expired(now) {
		return nil, apikeydomain.ErrInvalidKey
	}
	if key.Livemode != prefixLivemode {
		// Stored environment wins over the prefix convention, but a
		// mismatch means the key material was tampered with.
		return nil, apikeydomain.ErrInvalidKey
	}

	if err := v.repo.TouchLastUsed(ctx, v.db, key.ID, now.Unix()); err != nil {
		v.log.Warn("touch last_used_at", zap.Error(err))
	}

	result := &apikeydomain.VerificationResult{
		Type:           key.Type,
		UserID:         key.CreatedByUserID.String(),
		OrganizationID: key.OrgID.String(),
		Livemode:       key.Livemode,
	}
	if key.PricingModelID != nil {
		result.PricingModelID = key.PricingModelID.String()
	}
	return result, nil
}
