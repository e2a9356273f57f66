package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	"github.com/flowglad/flowglad/internal/pricing/domain"
	"github.com/flowglad/flowglad/pkg/authctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		log:   p.Log.Named("pricing.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// scope pulls the bound claim out of ctx. Pricing writes always run inside
// an authenticated or admin transaction, so a missing claim is a
// programming error, not a caller error.
func (s *Service) scope(ctx context.Context) (identitydomain.Claim, snowflake.ID, error) {
	claim, ok := authctx.ClaimFromContext(ctx)
	if !ok {
		return identitydomain.Claim{}, 0, domain.ErrMissingOrganization
	}
	orgID, ok := authctx.OrgIDFromContext(ctx)
	if !ok {
		return identitydomain.Claim{}, 0, domain.ErrMissingOrganization
	}
	return claim, orgID, nil
}

// state holds every row of one pricing model plus the lookups the apply
// steps need. Loaded once per update, inside the update's transaction.
type state struct {
	products        []domain.Product
	meters          []domain.UsageMeter
	features        []domain.Feature
	resources       []domain.Resource
	productFeatures []domain.ProductFeature

	productPrice     map[snowflake.ID]domain.Price   // product id -> its representative active price
	productPriceRows map[snowflake.ID][]domain.Price // product id -> every active price
	meterPrices      map[snowflake.ID][]domain.Price // meter id -> active prices
	meterSlugs       map[snowflake.ID]string
	resourceSlug     map[snowflake.ID]string
	featureSlug      map[snowflake.ID]string
}

// Get loads one pricing model and its full configuration tree.
func (s *Service) Get(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (*domain.PricingModel, *domain.Tree, error) {
	claim, orgID, err := s.scope(ctx)
	if err != nil {
		return nil, nil, err
	}
	model, err := s.repo.FindModel(ctx, tx, orgID, modelID)
	if err != nil {
		return nil, nil, err
	}
	if model == nil || model.Livemode != claim.Livemode {
		return nil, nil, domain.NewNotFoundError("pricing_model", modelID.String())
	}
	st, err := s.loadState(ctx, tx, model.ID)
	if err != nil {
		return nil, nil, err
	}
	tree := s.toTree(model, st)
	return model, &tree, nil
}

// GetDefault resolves the organization's default pricing model for the
// caller's livemode. Customers without a pinned model land here.
func (s *Service) GetDefault(ctx context.Context, tx *gorm.DB) (*domain.PricingModel, *domain.Tree, error) {
	claim, orgID, err := s.scope(ctx)
	if err != nil {
		return nil, nil, err
	}
	model, err := s.repo.FindDefaultModel(ctx, tx, orgID, claim.Livemode)
	if err != nil {
		return nil, nil, err
	}
	if model == nil {
		return nil, nil, domain.NewNotFoundError("pricing_model", "default")
	}
	st, err := s.loadState(ctx, tx, model.ID)
	if err != nil {
		return nil, nil, err
	}
	tree := s.toTree(model, st)
	return model, &tree, nil
}

func newEmptyState() *state {
	return &state{
		productPrice:     make(map[snowflake.ID]domain.Price),
		productPriceRows: make(map[snowflake.ID][]domain.Price),
		meterPrices:      make(map[snowflake.ID][]domain.Price),
		meterSlugs:       make(map[snowflake.ID]string),
		resourceSlug:     make(map[snowflake.ID]string),
		featureSlug:      make(map[snowflake.ID]string),
	}
}

func (s *Service) loadState(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (*state, error) {
	st := &state{
		productPrice:     make(map[snowflake.ID]domain.Price),
		productPriceRows: make(map[snowflake.ID][]domain.Price),
		meterPrices:      make(map[snowflake.ID][]domain.Price),
		meterSlugs:       make(map[snowflake.ID]string),
		resourceSlug:     make(map[snowflake.ID]string),
		featureSlug:      make(map[snowflake.ID]string),
	}

	var err error
	if st.products, err = s.repo.ListProducts(ctx, tx, modelID); err != nil {
		return nil, err
	}
	if st.meters, err = s.repo.ListUsageMeters(ctx, tx, modelID); err != nil {
		return nil, err
	}
	if st.features, err = s.repo.ListFeatures(ctx, tx, modelID); err != nil {
		return nil, err
	}
	if st.resources, err = s.repo.ListResources(ctx, tx, modelID); err != nil {
		return nil, err
	}

	prices, err := s.repo.ListActivePrices(ctx, tx, modelID)
	if err != nil {
		return nil, err
	}
	for _, price := range prices {
		switch {
		case price.ProductID != nil:
			st.productPriceRows[*price.ProductID] = append(st.productPriceRows[*price.ProductID], price)
			// Keep the default price when a product somehow has several.
			if existing, ok := st.productPrice[*price.ProductID]; !ok || (!existing.IsDefault && price.IsDefault) {
				st.productPrice[*price.ProductID] = price
			}
		case price.UsageMeterID != nil:
			st.meterPrices[*price.UsageMeterID] = append(st.meterPrices[*price.UsageMeterID], price)
		}
	}

	productIDs := make([]snowflake.ID, 0, len(st.products))
	for _, p := range st.products {
		productIDs = append(productIDs, p.ID)
	}
	if st.productFeatures, err = s.repo.ListProductFeatures(ctx, tx, productIDs); err != nil {
		return nil, err
	}

	for _, m := range st.meters {
		st.meterSlugs[m.ID] = m.Slug
	}
	for _, res := range st.resources {
		st.resourceSlug[res.ID] = res.Slug
	}
	for _, f := range st.features {
		st.featureSlug[f.ID] = f.Slug
	}
	return st, nil
}

// toTree converts loaded rows into the input shape so they can be diffed
// against a proposal directly.
func (s *Service) toTree(model *domain.PricingModel, st *state) domain.Tree {
	tree := domain.Tree{Name: model.Name, IsDefault: model.IsDefault}

	attached := make(map[snowflake.ID][]string)
	for _, pf := range st.productFeatures {
		if pf.ExpiredAt != nil {
			continue
		}
		if slug, ok := st.featureSlug[pf.FeatureID]; ok {
			attached[pf.ProductID] = append(attached[pf.ProductID], slug)
		}
	}

	for i := range st.products {
		p := &st.products[i]
		input := domain.ProductInput{
			Slug:         p.Slug,
			Name:         p.Name,
			Description:  p.Description,
			Default:      p.Default,
			FeatureSlugs: attached[p.ID],
		}
		if price, ok := st.productPrice[p.ID]; ok {
			input.Price = priceToInput(price)
		}
		tree.Products = append(tree.Products, input)
	}

	for i := range st.meters {
		m := &st.meters[i]
		input := domain.UsageMeterInput{Slug: m.Slug, Name: m.Name, Aggregation: m.Aggregation}
		for _, price := range st.meterPrices[m.ID] {
			input.Prices = append(input.Prices, priceToInput(price))
		}
		tree.UsageMeters = append(tree.UsageMeters, input)
	}

	for i := range st.features {
		f := &st.features[i]
		input := domain.FeatureInput{
			Slug:        f.Slug,
			Name:        f.Name,
			Description: f.Description,
			Type:        f.Type,
			Amount:      f.Amount,
		}
		if f.UsageMeterID != nil {
			if slug, ok := st.meterSlugs[*f.UsageMeterID]; ok {
				input.UsageMeterSlug = &slug
			}
		}
		if f.ResourceID != nil {
			if slug, ok := st.resourceSlug[*f.ResourceID]; ok {
				input.ResourceSlug = &slug
			}
		}
		tree.Features = append(tree.Features, input)
	}

	for i := range st.resources {
		tree.Resources = append(tree.Resources, domain.ResourceInput{Slug: st.resources[i].Slug, Name: st.resources[i].Name})
	}
	return tree
}

func priceToInput(price domain.Price) domain.PriceInput {
	return domain.PriceInput{
		Slug:          price.Slug,
		Type:          price.Type,
		UnitAmount:    price.UnitAmount,
		Currency:      price.Currency,
		IntervalUnit:  price.IntervalUnit,
		IntervalCount: price.IntervalCount,
	}
}
