package service

import (
	"context"
	"time"

	"github.com/flowglad/flowglad/internal/events"
	"github.com/flowglad/flowglad/internal/pricing/diff"
	"github.com/flowglad/flowglad/internal/pricing/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Setup creates a pricing model and its whole graph in one pass. Unlike
// Update there is nothing to diff against, so feature references must
// resolve within the proposal itself.
func (s *Service) Setup(ctx context.Context, tx *gorm.DB, input domain.SetupInput, effects domain.Effector) (*domain.PricingModel, error) {
	claim, orgID, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}

	tree := normalizeTree(domain.Tree{
		Name:        input.Name,
		IsDefault:   input.IsDefault,
		Products:    input.Products,
		Features:    input.Features,
		UsageMeters: input.UsageMeters,
		Resources:   input.Resources,
	})
	if err := validateTree(tree); err != nil {
		return nil, err
	}
	if defaultCount(tree.Products) == 0 {
		return nil, domain.NewValidationError("default_product", "a pricing model requires a default product")
	}

	now := time.Now().UTC()
	model := &domain.PricingModel{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Name:      tree.Name,
		IsDefault: tree.IsDefault,
		Livemode:  claim.Livemode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateModel(ctx, tx, model); err != nil {
		return nil, err
	}
	if model.IsDefault {
		if err := s.repo.ClearDefaultModels(ctx, tx, orgID, model.Livemode, model.ID); err != nil {
			return nil, err
		}
	}

	// Diffing against an empty tree makes every collection a pure create,
	// so setup reuses the update apply steps.
	res := &domain.UpdateResult{Model: model}
	changes, err := diff.PricingModel(domain.Tree{}, tree)
	if err != nil {
		return nil, err
	}

	empty := newEmptyState()
	meterIDs, err := s.applyUsageMeters(ctx, tx, model, empty, changes.UsageMeters, res, now)
	if err != nil {
		return nil, err
	}
	resourceIDs, err := s.applyResources(ctx, tx, model, empty, changes.Resources, res, now)
	if err != nil {
		return nil, err
	}
	if err := s.applyFeatures(ctx, tx, model, empty, changes.Features, meterIDs, resourceIDs, res, now); err != nil {
		return nil, err
	}
	productIDs, err := s.applyProducts(ctx, tx, model, empty, changes.Products, res, now)
	if err != nil {
		return nil, err
	}
	if err := s.syncProductFeatures(ctx, tx, model, tree.Products, productIDs, res, now); err != nil {
		return nil, err
	}

	effects.EmitEvent(events.Event{
		OrgID: orgID,
		Type:  events.EventPricingModelCreated,
		Payload: map[string]any{
			"pricing_model_id": model.ID.String(),
			"products_created": res.ProductsCreated,
		},
		DedupeKey: "pricing_model.created:" + model.ID.String(),
	})
	effects.InvalidateCache("pricing_model:" + model.ID.String())

	s.log.Info("pricing model created",
		zap.String("pricing_model_id", model.ID.String()),
		zap.Bool("is_default", model.IsDefault),
		zap.Int("products_created", res.ProductsCreated),
	)
	return model, nil
}

func defaultCount(products []domain.ProductInput) int {
	n := 0
	for _, p := range products {
		if p.Default {
			n++
		}
	}
	return n
}
