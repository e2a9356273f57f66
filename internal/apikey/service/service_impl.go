package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	pricingdomain "github.com/flowglad/flowglad/internal/pricing/domain"
	"github.com/flowglad/flowglad/pkg/authctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	apiKeySecretBytes         = 32
	apiKeyRotationGracePeriod = 24 * time.Hour
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    apikeydomain.Repository
	Pricing pricingdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    apikeydomain.Repository
	pricing pricingdomain.Repository
	genID   *snowflake.Node
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("apikey.service"),
		repo:    p.Repo,
		pricing: p.Pricing,
		genID:   p.GenID,
	}
}

func (s *Service) List(ctx context.Context) ([]apikeydomain.Response, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.List(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Create(ctx context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	claim, ok := authctx.ClaimFromContext(ctx)
	if !ok {
		return nil, apikeydomain.ErrInvalidOrganization
	}
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	creatorID, err := snowflake.ParseString(claim.UserID)
	if err != nil {
		return nil, apikeydomain.ErrInvalidOrganization
	}

	// The identity resolver refuses keys without a pricing model, so a key
	// must be pinned at birth. When the caller does not pick one, the org's
	// default model for the requested mode is used.
	var pricingModelID *snowflake.ID
	if req.PricingModelID != nil {
		parsed, err := snowflake.ParseString(strings.TrimSpace(*req.PricingModelID))
		if err != nil {
			return nil, apikeydomain.ErrInvalidKeyID
		}
		pricingModelID = &parsed
	} else {
		model, err := s.pricing.FindDefaultModel(ctx, s.db, orgID, req.Livemode)
		if err != nil {
			return nil, err
		}
		if model == nil {
			return nil, apikeydomain.ErrNoDefaultModel
		}
		pricingModelID = &model.ID
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = []string{apikeydomain.ScopeRead, apikeydomain.ScopeWrite}
	}

	now := time.Now().UTC()
	id := s.genID.Generate()
	keyID := newKeyID(id)
	plain, hash, err := generateAPIKey(keyID, req.Livemode)
	if err != nil {
		return nil, err
	}

	key := &apikeydomain.APIKey{
		ID:              id,
		OrgID:           orgID,
		KeyID:           keyID,
		Name:            name,
		Type:            apikeydomain.KeyTypeSecret,
		Scopes:          scopes,
		KeyHash:         hash,
		CreatedByUserID: creatorID,
		PricingModelID:  pricingModelID,
		Livemode:        req.Livemode,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	return &apikeydomain.SecretResponse{KeyID: key.KeyID, APIKey: plain}, nil
}

func (s *Service) Rotate(ctx context.Context, keyID string) (*apikeydomain.SecretResponse, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return nil, apikeydomain.ErrInvalidKeyID
	}

	var result *apikeydomain.SecretResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByKeyID(ctx, tx, orgID, trimmed)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if current == nil || !current.IsActive || current.Expired(now) {
			return apikeydomain.ErrNotFound
		}

		grace := now.Add(apiKeyRotationGracePeriod)
		current.ExpiresAt = &grace
		current.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}

		id := s.genID.Generate()
		nextKeyID := newKeyID(id)
		plain, hash, err := generateAPIKey(nextKeyID, current.Livemode)
		if err != nil {
			return err
		}

		next := &apikeydomain.APIKey{
			ID:              id,
			OrgID:           orgID,
			KeyID:           nextKeyID,
			Name:            current.Name,
			Type:            current.Type,
			Scopes:          current.Scopes,
			KeyHash:         hash,
			CreatedByUserID: current.CreatedByUserID,
			PricingModelID:  current.PricingModelID,
			Livemode:        current.Livemode,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.repo.Insert(ctx, tx, next); err != nil {
			return err
		}

		result = &apikeydomain.SecretResponse{KeyID: next.KeyID, APIKey: plain}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) Revoke(ctx context.Context, keyID string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}

	trimmed := strings.TrimSpace(keyID)
	if trimmed == "" {
		return apikeydomain.ErrInvalidKeyID
	}

	key, err := s.repo.FindByKeyID(ctx, s.db, orgID, trimmed)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}

	now := time.Now().UTC()
	key.IsActive = false
	key.UpdatedAt = now
	if key.ExpiresAt == nil || key.ExpiresAt.After(now) {
		key.ExpiresAt = &now
	}
	return s.repo.Update(ctx, s.db, key)
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := authctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, apikeydomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func toResponse(key *apikeydomain.APIKey) apikeydomain.Response {
	var pricingModelID *string
	if key.PricingModelID != nil {
		value := key.PricingModelID.String()
		pricingModelID = &value
	}

	return apikeydomain.Response{
		KeyID:          key.KeyID,
		Name:           key.Name,
		Type:           string(key.Type),
		Scopes:         key.Scopes,
		Livemode:       key.Livemode,
		IsActive:       key.IsActive,
		PricingModelID: pricingModelID,
		CreatedAt:      key.CreatedAt,
		LastUsedAt:     key.LastUsedAt,
		ExpiresAt:      key.ExpiresAt,
	}
}

func generateAPIKey(keyID string, livemode bool) (string, string, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}

	prefix := apikeydomain.TestPrefix
	if livemode {
		prefix = apikeydomain.LivePrefix
	}
	trimmed := strings.TrimPrefix(keyID, "key_")
	plain := fmt.Sprintf("%s%s_%s", prefix, trimmed, hex.EncodeToString(secret))
	return plain, apikeydomain.HashAPIKey(plain), nil
}

func newKeyID(id snowflake.ID) string {
	return "key_" + strings.ToUpper(strconv.FormatInt(int64(id), 36))
}
