package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/internal/events"
	"github.com/flowglad/flowglad/internal/pricing/diff"
	"github.com/flowglad/flowglad/internal/pricing/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Update reconciles a pricing model toward the proposed configuration. The
// proposal is the complete desired state: anything it omits is removed,
// with two exceptions the diff and the default-product guard enforce.
//
// Apply order matters. Usage meters land first because features may grant
// against newly created meters, resources next for the same reason, then
// features, then products, and the product-feature junction last once every
// slug on both sides has a row.
func (s *Service) Update(ctx context.Context, tx *gorm.DB, modelID snowflake.ID, input domain.UpdateInput, effects domain.Effector) (*domain.UpdateResult, error) {
	claim, orgID, err := s.scope(ctx)
	if err != nil {
		return nil, err
	}

	model, err := s.repo.FindModel(ctx, tx, orgID, modelID)
	if err != nil {
		return nil, err
	}
	if model == nil || model.Livemode != claim.Livemode {
		return nil, domain.NewNotFoundError("pricing_model", modelID.String())
	}

	st, err := s.loadState(ctx, tx, model.ID)
	if err != nil {
		return nil, err
	}
	existing := normalizeTree(s.toTree(model, st))

	proposed := domain.Tree{
		Name:        model.Name,
		IsDefault:   model.IsDefault,
		Products:    input.Products,
		Features:    input.Features,
		UsageMeters: input.UsageMeters,
		Resources:   input.Resources,
	}
	if input.Name != nil {
		proposed.Name = *input.Name
	}
	if input.IsDefault != nil {
		proposed.IsDefault = *input.IsDefault
	}
	proposed.Products = protectDefaultProduct(existing.Products, proposed.Products)
	proposed = normalizeTree(proposed)

	if err := validateTree(proposed); err != nil {
		return nil, err
	}
	changes, err := diff.PricingModel(existing, proposed)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res := &domain.UpdateResult{Model: model}

	if proposed.Name != model.Name || proposed.IsDefault != model.IsDefault {
		model.Name = proposed.Name
		model.IsDefault = proposed.IsDefault
		model.UpdatedAt = now
		if err := s.repo.SaveModel(ctx, tx, model); err != nil {
			return nil, err
		}
		if model.IsDefault {
			if err := s.repo.ClearDefaultModels(ctx, tx, orgID, model.Livemode, model.ID); err != nil {
				return nil, err
			}
		}
	}

	meterIDs, err := s.applyUsageMeters(ctx, tx, model, st, changes.UsageMeters, res, now)
	if err != nil {
		return nil, err
	}
	resourceIDs, err := s.applyResources(ctx, tx, model, st, changes.Resources, res, now)
	if err != nil {
		return nil, err
	}
	if err := s.applyFeatures(ctx, tx, model, st, changes.Features, meterIDs, resourceIDs, res, now); err != nil {
		return nil, err
	}
	productIDs, err := s.applyProducts(ctx, tx, model, st, changes.Products, res, now)
	if err != nil {
		return nil, err
	}
	if err := s.syncProductFeatures(ctx, tx, model, proposed.Products, productIDs, res, now); err != nil {
		return nil, err
	}

	effects.EmitEvent(events.Event{
		OrgID: orgID,
		Type:  events.EventPricingModelUpdated,
		Payload: map[string]any{
			"pricing_model_id": model.ID.String(),
			"products_created": res.ProductsCreated,
			"products_removed": res.ProductsRemoved,
			"prices_created":   res.PricesCreated,
		},
	})
	effects.InvalidateCache("pricing_model:" + model.ID.String())

	s.log.Info("pricing model updated",
		zap.String("pricing_model_id", model.ID.String()),
		zap.Int("products_created", res.ProductsCreated),
		zap.Int("products_updated", res.ProductsUpdated),
		zap.Int("products_removed", res.ProductsRemoved),
		zap.Int("prices_created", res.PricesCreated),
		zap.Int("prices_deactivated", res.PricesDeactivated),
	)
	return res, nil
}

// protectDefaultProduct keeps the existing default product intact. A
// proposal that omits it gets it appended unchanged; a proposal that edits
// it keeps its metadata edits but its default flag and price terms are
// pinned to the current values. No other product may take the flag over.
func protectDefaultProduct(existing, proposed []domain.ProductInput) []domain.ProductInput {
	var current *domain.ProductInput
	for i := range existing {
		if existing[i].Default {
			current = &existing[i]
			break
		}
	}
	if current == nil {
		return proposed
	}

	found := false
	for i := range proposed {
		if proposed[i].Slug == current.Slug {
			found = true
			proposed[i].Default = true
			proposed[i].Price = current.Price
		} else {
			proposed[i].Default = false
		}
	}
	if !found {
		proposed = append(proposed, *current)
	}
	return proposed
}

// applyUsageMeters creates and updates meters and reconciles each retained
// meter's price list. Returns the slug map as it stands after creation so
// later steps can resolve grant references.
func (s *Service) applyUsageMeters(ctx context.Context, tx *gorm.DB, model *domain.PricingModel, st *state, changes diff.Result[domain.UsageMeterInput], res *domain.UpdateResult, now time.Time) (map[string]snowflake.ID, error) {
	rows := make([]*domain.UsageMeter, 0, len(changes.ToCreate))
	for _, in := range changes.ToCreate {
		rows = append(rows, &domain.UsageMeter{
			ID:             s.genID.Generate(),
			OrgID:          model.OrgID,
			PricingModelID: model.ID,
			Slug:           in.Slug,
			Name:           in.Name,
			Aggregation:    in.Aggregation,
			Active:         true,
			Livemode:       model.Livemode,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := s.repo.UpsertUsageMeters(ctx, tx, rows); err != nil {
		return nil, err
	}
	res.UsageMetersCreated = len(rows)

	// Re-query instead of trusting generated IDs: a concurrent insert may
	// have won the upsert, in which case its row is the surviving one.
	meterIDs, err := s.repo.UsageMeterIDsBySlug(ctx, tx, model.ID)
	if err != nil {
		return nil, err
	}

	meterRowBySlug := make(map[string]*domain.UsageMeter, len(st.meters))
	for i := range st.meters {
		meterRowBySlug[st.meters[i].Slug] = &st.meters[i]
	}

	var deactivate []snowflake.ID
	var newPrices []*domain.Price

	for _, in := range changes.ToCreate {
		meterID, ok := meterIDs[in.Slug]
		if !ok {
			return nil, fmt.Errorf("usage meter %q missing after upsert", in.Slug)
		}
		for _, pin := range in.Prices {
			newPrices = append(newPrices, s.newMeterPrice(model, meterID, pin, now))
		}
	}

	for _, pair := range changes.ToUpdate {
		meterID, ok := meterIDs[pair.Proposed.Slug]
		if !ok {
			return nil, fmt.Errorf("usage meter %q missing during update", pair.Proposed.Slug)
		}

		if pair.Existing.Name != pair.Proposed.Name || pair.Existing.Aggregation != pair.Proposed.Aggregation {
			row := meterRowBySlug[pair.Proposed.Slug]
			if row != nil {
				row.Name = pair.Proposed.Name
				row.Aggregation = pair.Proposed.Aggregation
				row.UpdatedAt = now
				if err := s.repo.SaveUsageMeter(ctx, tx, row); err != nil {
					return nil, err
				}
				res.UsageMetersUpdated++
			}
		}

		priceRowBySlug := make(map[string]domain.Price)
		for _, price := range st.meterPrices[meterID] {
			priceRowBySlug[price.Slug] = price
		}
		priceDiff := diff.SluggedResources(pair.Existing.Prices, pair.Proposed.Prices)
		for _, pin := range priceDiff.ToCreate {
			newPrices = append(newPrices, s.newMeterPrice(model, meterID, pin, now))
		}
		for _, pin := range priceDiff.ToRemove {
			if row, ok := priceRowBySlug[pin.Slug]; ok {
				deactivate = append(deactivate, row.ID)
			}
		}
		for _, pp := range priceDiff.ToUpdate {
			if !diff.Changed(pp) {
				continue
			}
			// Price terms are immutable: retire the old row, insert a new one.
			if row, ok := priceRowBySlug[pp.Existing.Slug]; ok {
				deactivate = append(deactivate, row.ID)
			}
			newPrices = append(newPrices, s.newMeterPrice(model, meterID, pp.Proposed, now))
		}
	}

	// Deactivate before insert so an active-slug uniqueness constraint
	// never sees old and new rows alive at once.
	if err := s.repo.DeactivatePrices(ctx, tx, deactivate); err != nil {
		return nil, err
	}
	if err := s.repo.CreatePrices(ctx, tx, newPrices); err != nil {
		return nil, err
	}
	res.PricesDeactivated += len(deactivate)
	res.PricesCreated += len(newPrices)
	return meterIDs, nil
}

func (s *Service) applyResources(ctx context.Context, tx *gorm.DB, model *domain.PricingModel, st *state, changes diff.Result[domain.ResourceInput], res *domain.UpdateResult, now time.Time) (map[string]snowflake.ID, error) {
	rows := make([]*domain.Resource, 0, len(changes.ToCreate))
	for _, in := range changes.ToCreate {
		rows = append(rows, &domain.Resource{
			ID:             s.genID.Generate(),
			OrgID:          model.OrgID,
			PricingModelID: model.ID,
			Slug:           in.Slug,
			Name:           in.Name,
			Active:         true,
			Livemode:       model.Livemode,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := s.repo.CreateResources(ctx, tx, rows); err != nil {
		return nil, err
	}
	res.ResourcesCreated = len(rows)

	rowBySlug := make(map[string]*domain.Resource, len(st.resources))
	for i := range st.resources {
		rowBySlug[st.resources[i].Slug] = &st.resources[i]
	}

	for _, pair := range changes.ToUpdate {
		if !diff.Changed(pair) {
			continue
		}
		row := rowBySlug[pair.Proposed.Slug]
		if row == nil {
			continue
		}
		row.Name = pair.Proposed.Name
		row.UpdatedAt = now
		if err := s.repo.SaveResource(ctx, tx, row); err != nil {
			return nil, err
		}
		res.ResourcesUpdated++
	}

	var remove []snowflake.ID
	for _, in := range changes.ToRemove {
		if row, ok := rowBySlug[in.Slug]; ok {
			remove = append(remove, row.ID)
		}
	}
	if err := s.repo.DeactivateResources(ctx, tx, remove); err != nil {
		return nil, err
	}
	res.ResourcesRemoved = len(remove)

	resourceIDs, err := s.repo.ResourceIDsBySlug(ctx, tx, model.ID)
	if err != nil {
		return nil, err
	}
	return resourceIDs, nil
}

func (s *Service) applyFeatures(ctx context.Context, tx *gorm.DB, model *domain.PricingModel, st *state, changes diff.Result[domain.FeatureInput], meterIDs, resourceIDs map[string]snowflake.ID, res *domain.UpdateResult, now time.Time) error {
	rows := make([]*domain.Feature, 0, len(changes.ToCreate))
	for _, in := range changes.ToCreate {
		row := &domain.Feature{
			ID:             s.genID.Generate(),
			OrgID:          model.OrgID,
			PricingModelID: model.ID,
			Slug:           in.Slug,
			Name:           in.Name,
			Description:    in.Description,
			Type:           in.Type,
			Amount:         in.Amount,
			Active:         true,
			Livemode:       model.Livemode,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := resolveFeatureRefs(row, in, meterIDs, resourceIDs); err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := s.repo.CreateFeatures(ctx, tx, rows); err != nil {
		return err
	}
	res.FeaturesCreated = len(rows)

	rowBySlug := make(map[string]*domain.Feature, len(st.features))
	for i := range st.features {
		rowBySlug[st.features[i].Slug] = &st.features[i]
	}

	for _, pair := range changes.ToUpdate {
		if !diff.Changed(pair) {
			continue
		}
		row := rowBySlug[pair.Proposed.Slug]
		if row == nil {
			continue
		}
		row.Name = pair.Proposed.Name
		row.Description = pair.Proposed.Description
		row.Amount = pair.Proposed.Amount
		row.UsageMeterID = nil
		row.ResourceID = nil
		if err := resolveFeatureRefs(row, pair.Proposed, meterIDs, resourceIDs); err != nil {
			return err
		}
		row.UpdatedAt = now
		if err := s.repo.SaveFeature(ctx, tx, row); err != nil {
			return err
		}
		res.FeaturesUpdated++
	}

	var remove []snowflake.ID
	for _, in := range changes.ToRemove {
		if row, ok := rowBySlug[in.Slug]; ok {
			remove = append(remove, row.ID)
		}
	}
	if err := s.repo.DeactivateFeatures(ctx, tx, remove); err != nil {
		return err
	}
	res.FeaturesRemoved = len(remove)
	return nil
}

func resolveFeatureRefs(row *domain.Feature, in domain.FeatureInput, meterIDs, resourceIDs map[string]snowflake.ID) error {
	if in.UsageMeterSlug != nil {
		meterID, ok := meterIDs[*in.UsageMeterSlug]
		if !ok {
			return domain.NewNotFoundError("usage_meter", *in.UsageMeterSlug)
		}
		row.UsageMeterID = &meterID
	}
	if in.ResourceSlug != nil {
		resourceID, ok := resourceIDs[*in.ResourceSlug]
		if !ok {
			return domain.NewNotFoundError("resource", *in.ResourceSlug)
		}
		row.ResourceID = &resourceID
	}
	return nil
}

// applyProducts reconciles products and their prices. Returns slug -> id
// for every product alive after the step, created ones included.
func (s *Service) applyProducts(ctx context.Context, tx *gorm.DB, model *domain.PricingModel, st *state, changes diff.ProductResult, res *domain.UpdateResult, now time.Time) (map[string]snowflake.ID, error) {
	productIDs := make(map[string]snowflake.ID, len(st.products))
	rowBySlug := make(map[string]*domain.Product, len(st.products))
	for i := range st.products {
		productIDs[st.products[i].Slug] = st.products[i].ID
		rowBySlug[st.products[i].Slug] = &st.products[i]
	}

	var deactivatePrices []snowflake.ID
	var removeProducts []snowflake.ID
	var newProducts []*domain.Product
	var newPrices []*domain.Price

	for _, pair := range changes.ToUpdate {
		row := rowBySlug[pair.Proposed.Slug]
		if row == nil {
			continue
		}
		if pair.Existing.Name != pair.Proposed.Name ||
			!equalStringPtr(pair.Existing.Description, pair.Proposed.Description) ||
			pair.Existing.Default != pair.Proposed.Default {
			row.Name = pair.Proposed.Name
			row.Description = pair.Proposed.Description
			row.Default = pair.Proposed.Default
			row.UpdatedAt = now
			if err := s.repo.SaveProduct(ctx, tx, row); err != nil {
				return nil, err
			}
			res.ProductsUpdated++
		}
		if pair.PriceChange != nil {
			for _, price := range st.productPriceRows[row.ID] {
				deactivatePrices = append(deactivatePrices, price.ID)
			}
			newPrices = append(newPrices, s.newProductPrice(model, row.ID, pair.PriceChange.Proposed, now))
		}
	}

	for _, in := range changes.ToRemove {
		row := rowBySlug[in.Slug]
		if row == nil {
			continue
		}
		removeProducts = append(removeProducts, row.ID)
		for _, price := range st.productPriceRows[row.ID] {
			deactivatePrices = append(deactivatePrices, price.ID)
		}
		delete(productIDs, in.Slug)
	}

	for _, in := range changes.ToCreate {
		product := &domain.Product{
			ID:             s.genID.Generate(),
			OrgID:          model.OrgID,
			PricingModelID: model.ID,
			Slug:           in.Slug,
			Name:           in.Name,
			Description:    in.Description,
			Default:        in.Default,
			Active:         true,
			Livemode:       model.Livemode,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		newProducts = append(newProducts, product)
		newPrices = append(newPrices, s.newProductPrice(model, product.ID, in.Price, now))
		productIDs[in.Slug] = product.ID
	}

	if err := s.repo.DeactivatePrices(ctx, tx, deactivatePrices); err != nil {
		return nil, err
	}
	if err := s.repo.DeactivateProducts(ctx, tx, removeProducts); err != nil {
		return nil, err
	}
	if err := s.repo.CreateProducts(ctx, tx, newProducts); err != nil {
		return nil, err
	}
	if err := s.repo.CreatePrices(ctx, tx, newPrices); err != nil {
		return nil, err
	}

	res.ProductsCreated += len(newProducts)
	res.ProductsRemoved += len(removeProducts)
	res.PricesDeactivated += len(deactivatePrices)
	res.PricesCreated += len(newPrices)
	return productIDs, nil
}

// syncProductFeatures reconciles the product-feature junction for every
// product in the proposal with three batched statements: expire, restore,
// insert. Detached links are expired rather than deleted so entitlement
// history survives; re-attaching clears the expiry on the original row.
func (s *Service) syncProductFeatures(ctx context.Context, tx *gorm.DB, model *domain.PricingModel, proposed []domain.ProductInput, productIDs map[string]snowflake.ID, res *domain.UpdateResult, now time.Time) error {
	featureIDs, err := s.repo.FeatureIDsBySlug(ctx, tx, model.ID)
	if err != nil {
		return err
	}

	type pairKey struct{ productID, featureID snowflake.ID }
	desired := make(map[pairKey]struct{})
	allProducts := make([]snowflake.ID, 0, len(proposed))
	for _, in := range proposed {
		productID, ok := productIDs[in.Slug]
		if !ok {
			return fmt.Errorf("product %q missing after apply", in.Slug)
		}
		allProducts = append(allProducts, productID)
		for _, slug := range in.FeatureSlugs {
			featureID, ok := featureIDs[slug]
			if !ok {
				return domain.NewNotFoundError("feature", slug)
			}
			desired[pairKey{productID, featureID}] = struct{}{}
		}
	}

	current, err := s.repo.ListProductFeatures(ctx, tx, allProducts)
	if err != nil {
		return err
	}

	var expire, restore []snowflake.ID
	for i := range current {
		row := &current[i]
		key := pairKey{row.ProductID, row.FeatureID}
		if _, ok := desired[key]; ok {
			if row.ExpiredAt != nil {
				restore = append(restore, row.ID)
			}
			delete(desired, key)
		} else if row.ExpiredAt == nil {
			expire = append(expire, row.ID)
		}
	}

	inserts := make([]*domain.ProductFeature, 0, len(desired))
	for _, in := range proposed {
		productID := productIDs[in.Slug]
		for _, slug := range in.FeatureSlugs {
			key := pairKey{productID, featureIDs[slug]}
			if _, ok := desired[key]; !ok {
				continue
			}
			delete(desired, key)
			inserts = append(inserts, &domain.ProductFeature{
				ID:        s.genID.Generate(),
				OrgID:     model.OrgID,
				ProductID: key.productID,
				FeatureID: key.featureID,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}

	if err := s.repo.ExpireProductFeatures(ctx, tx, expire, now); err != nil {
		return err
	}
	if err := s.repo.UnexpireProductFeatures(ctx, tx, restore); err != nil {
		return err
	}
	if err := s.repo.InsertProductFeatures(ctx, tx, inserts); err != nil {
		return err
	}
	res.FeatureLinksExpired = len(expire)
	res.FeatureLinksRestored = len(restore)
	res.FeatureLinksAdded = len(inserts)
	return nil
}

func (s *Service) newProductPrice(model *domain.PricingModel, productID snowflake.ID, in domain.PriceInput, now time.Time) *domain.Price {
	price := s.newPrice(model, in, now)
	price.ProductID = &productID
	price.IsDefault = true
	return price
}

func (s *Service) newMeterPrice(model *domain.PricingModel, meterID snowflake.ID, in domain.PriceInput, now time.Time) *domain.Price {
	price := s.newPrice(model, in, now)
	price.UsageMeterID = &meterID
	return price
}

func (s *Service) newPrice(model *domain.PricingModel, in domain.PriceInput, now time.Time) *domain.Price {
	return &domain.Price{
		ID:             s.genID.Generate(),
		OrgID:          model.OrgID,
		PricingModelID: model.ID,
		Slug:           in.Slug,
		Type:           in.Type,
		UnitAmount:     in.UnitAmount,
		Currency:       in.Currency,
		IntervalUnit:   in.IntervalUnit,
		IntervalCount:  in.IntervalCount,
		Active:         true,
		Livemode:       model.Livemode,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
