package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/flowglad/flowglad/internal/events"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	"github.com/flowglad/flowglad/internal/pricing/domain"
	"github.com/flowglad/flowglad/internal/pricing/repository"
	"github.com/flowglad/flowglad/pkg/authctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type effectsRecorder struct {
	events []events.Event
	keys   []string
}

func (r *effectsRecorder) EmitEvent(evts ...events.Event) { r.events = append(r.events, evts...) }
func (r *effectsRecorder) InvalidateCache(keys ...string) { r.keys = append(r.keys, keys...) }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.PricingModel{},
		&domain.Product{},
		&domain.Price{},
		&domain.UsageMeter{},
		&domain.Resource{},
		&domain.Feature{},
		&domain.ProductFeature{},
	))
	return db
}

func newTestService(t *testing.T) (domain.Service, *gorm.DB, context.Context, snowflake.ID) {
	t.Helper()
	db := newTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})

	orgID := node.Generate()
	claim := identitydomain.Claim{
		UserID:         node.Generate().String(),
		OrganizationID: orgID.String(),
		Email:          "owner@example.com",
		Role:           identitydomain.RoleMerchant,
		AuthType:       identitydomain.AuthTypeAPIKey,
		Livemode:       true,
	}
	ctx := authctx.WithClaim(context.Background(), claim)
	return svc, db, ctx, orgID
}

func fullSetupInput() domain.SetupInput {
	credits := int64(1000)
	meterSlug := "api-calls"
	resourceSlug := "projects"
	return domain.SetupInput{
		Name:      "Standard",
		IsDefault: true,
		Products: []domain.ProductInput{
			{
				Slug:    "free",
				Name:    "Free",
				Default: true,
				Price: domain.PriceInput{
					Slug: "free-monthly", Type: domain.PriceTypeSubscription,
					UnitAmount: 0, Currency: "usd",
				},
				FeatureSlugs: []string{"free-credits"},
			},
			{
				Slug: "pro",
				Name: "Pro",
				Price: domain.PriceInput{
					Slug: "pro-monthly", Type: domain.PriceTypeSubscription,
					UnitAmount: 4900, Currency: "usd",
				},
				FeatureSlugs: []string{"free-credits", "unlimited-projects"},
			},
		},
		UsageMeters: []domain.UsageMeterInput{
			{
				Slug: meterSlug, Name: "API Calls",
				Prices: []domain.PriceInput{
					{Slug: "api-overage", Type: domain.PriceTypeUsage, UnitAmount: 2, Currency: "usd"},
				},
			},
		},
		Resources: []domain.ResourceInput{{Slug: resourceSlug, Name: "Projects"}},
		Features: []domain.FeatureInput{
			{Slug: "free-credits", Name: "Free Credits", Type: domain.FeatureTypeUsageCreditGrant, Amount: &credits, UsageMeterSlug: &meterSlug},
			{Slug: "unlimited-projects", Name: "Unlimited Projects", Type: domain.FeatureTypeResource, ResourceSlug: &resourceSlug},
		},
	}
}

func TestSetup_CreatesFullGraph(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	rec := &effectsRecorder{}

	model, err := svc.Setup(ctx, db, fullSetupInput(), rec)
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.True(t, model.IsDefault)

	got, tree, err := svc.Get(ctx, db, model.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ID, got.ID)
	assert.Len(t, tree.Products, 2)
	assert.Len(t, tree.UsageMeters, 1)
	assert.Len(t, tree.Features, 2)
	assert.Len(t, tree.Resources, 1)
	assert.Equal(t, []string{"free-credits"}, tree.Products[0].FeatureSlugs)

	var priceCount int64
	require.NoError(t, db.Model(&domain.Price{}).Where("active = ?", true).Count(&priceCount).Error)
	assert.Equal(t, int64(3), priceCount)

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.EventPricingModelCreated, rec.events[0].Type)
	assert.Equal(t, "pricing_model.created:"+model.ID.String(), rec.events[0].DedupeKey)
	assert.Equal(t, []string{"pricing_model:" + model.ID.String()}, rec.keys)
}

func TestSetup_RequiresDefaultProduct(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	input := fullSetupInput()
	for i := range input.Products {
		input.Products[i].Default = false
	}

	_, err := svc.Setup(ctx, db, input, &effectsRecorder{})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "default_product", verr.Rule)
}

func TestSetup_RequiresAtLeastOneProduct(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	input := fullSetupInput()
	input.Products = nil

	_, err := svc.Setup(ctx, db, input, &effectsRecorder{})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "default_product", verr.Rule)
}

func TestSetup_RejectsDuplicateSlugs(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	input := fullSetupInput()
	input.Products[1].Slug = "free"

	_, err := svc.Setup(ctx, db, input, &effectsRecorder{})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "product_slug", verr.Rule)
}

func TestSetup_MissingClaim(t *testing.T) {
	svc, db, _, _ := newTestService(t)

	_, err := svc.Setup(context.Background(), db, fullSetupInput(), &effectsRecorder{})
	assert.ErrorIs(t, err, domain.ErrMissingOrganization)
}

func setupModel(t *testing.T, svc domain.Service, db *gorm.DB, ctx context.Context) *domain.PricingModel {
	t.Helper()
	model, err := svc.Setup(ctx, db, fullSetupInput(), &effectsRecorder{})
	require.NoError(t, err)
	return model
}

func updateFromSetup(input domain.SetupInput) domain.UpdateInput {
	return domain.UpdateInput{
		Products:    input.Products,
		Features:    input.Features,
		UsageMeters: input.UsageMeters,
		Resources:   input.Resources,
	}
}

func TestUpdate_NoChangesIsNoOp(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)
	rec := &effectsRecorder{}

	res, err := svc.Update(ctx, db, model.ID, updateFromSetup(fullSetupInput()), rec)
	require.NoError(t, err)

	assert.Zero(t, res.ProductsCreated)
	assert.Zero(t, res.ProductsUpdated)
	assert.Zero(t, res.ProductsRemoved)
	assert.Zero(t, res.PricesCreated)
	assert.Zero(t, res.PricesDeactivated)
	assert.Zero(t, res.FeatureLinksAdded)
	assert.Zero(t, res.FeatureLinksExpired)
}

func TestUpdate_PriceChangeRetiresOldRow(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	input := updateFromSetup(fullSetupInput())
	input.Products[1].Price.UnitAmount = 5900
	input.Products[1].Price.Slug = "pro-monthly-v2"

	res, err := svc.Update(ctx, db, model.ID, input, &effectsRecorder{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.PricesDeactivated)
	assert.Equal(t, 1, res.PricesCreated)

	var rows []domain.Price
	require.NoError(t, db.Where("slug IN ?", []string{"pro-monthly", "pro-monthly-v2"}).Order("slug").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].Active)
	assert.Equal(t, int64(4900), rows[0].UnitAmount)
	assert.True(t, rows[1].Active)
	assert.Equal(t, int64(5900), rows[1].UnitAmount)
}

func TestUpdate_DefaultProductCannotBeDropped(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	input := updateFromSetup(fullSetupInput())
	// Drop the default product and try to hand its flag to pro.
	input.Products = input.Products[1:]
	input.Products[0].Default = true

	res, err := svc.Update(ctx, db, model.ID, input, &effectsRecorder{})
	require.NoError(t, err)
	assert.Zero(t, res.ProductsRemoved)

	_, tree, err := svc.Get(ctx, db, model.ID)
	require.NoError(t, err)
	require.Len(t, tree.Products, 2)
	for _, p := range tree.Products {
		if p.Slug == "free" {
			assert.True(t, p.Default)
		} else {
			assert.False(t, p.Default)
		}
	}
}

func TestUpdate_DefaultProductPriceIsPinned(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	input := updateFromSetup(fullSetupInput())
	input.Products[0].Price.UnitAmount = 900

	res, err := svc.Update(ctx, db, model.ID, input, &effectsRecorder{})
	require.NoError(t, err)
	assert.Zero(t, res.PricesCreated)
	assert.Zero(t, res.PricesDeactivated)

	var price domain.Price
	require.NoError(t, db.Where("slug = ? AND active = ?", "free-monthly", true).First(&price).Error)
	assert.Zero(t, price.UnitAmount)
}

func TestUpdate_RejectsMeterRemoval(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	input := updateFromSetup(fullSetupInput())
	input.UsageMeters = nil
	input.Features = input.Features[1:] // drop the grant so validation reaches the diff

	_, err := svc.Update(ctx, db, model.ID, input, &effectsRecorder{})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "usage_meter_removal", verr.Rule)

	// Rejected before any write.
	var meterCount int64
	require.NoError(t, db.Model(&domain.UsageMeter{}).Where("active = ?", true).Count(&meterCount).Error)
	assert.Equal(t, int64(1), meterCount)
}

func TestUpdate_RejectsFeatureTypeChange(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	input := updateFromSetup(fullSetupInput())
	input.Features[1] = domain.FeatureInput{Slug: "unlimited-projects", Name: "Unlimited Projects", Type: domain.FeatureTypeToggle}

	_, err := svc.Update(ctx, db, model.ID, input, &effectsRecorder{})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "feature_type_change", verr.Rule)
}

func TestUpdate_FeatureLinksExpireAndRestore(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	detach := updateFromSetup(fullSetupInput())
	detach.Products[1].FeatureSlugs = []string{"free-credits"}

	res, err := svc.Update(ctx, db, model.ID, detach, &effectsRecorder{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FeatureLinksExpired)
	assert.Zero(t, res.FeatureLinksAdded)

	var linkCount int64
	require.NoError(t, db.Model(&domain.ProductFeature{}).Count(&linkCount).Error)
	assert.Equal(t, int64(3), linkCount)

	reattach := updateFromSetup(fullSetupInput())
	res, err = svc.Update(ctx, db, model.ID, reattach, &effectsRecorder{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.FeatureLinksRestored)
	assert.Zero(t, res.FeatureLinksAdded)

	// The original row came back; no duplicate was inserted.
	require.NoError(t, db.Model(&domain.ProductFeature{}).Count(&linkCount).Error)
	assert.Equal(t, int64(3), linkCount)
	require.NoError(t, db.Model(&domain.ProductFeature{}).Where("expired_at IS NULL").Count(&linkCount).Error)
	assert.Equal(t, int64(3), linkCount)
}

func TestUpdate_RemovedProductDeactivatesPrices(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	input := updateFromSetup(fullSetupInput())
	input.Products = input.Products[:1] // keep only the default product

	res, err := svc.Update(ctx, db, model.ID, input, &effectsRecorder{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProductsRemoved)
	assert.Equal(t, 1, res.PricesDeactivated)

	var product domain.Product
	require.NoError(t, db.Where("slug = ?", "pro").First(&product).Error)
	assert.False(t, product.Active)

	var price domain.Price
	require.NoError(t, db.Where("slug = ?", "pro-monthly").First(&price).Error)
	assert.False(t, price.Active)
}

func TestUpdate_DanglingGrantReference(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	missing := "nonexistent-meter"
	amount := int64(50)
	input := updateFromSetup(fullSetupInput())
	input.Features = append(input.Features, domain.FeatureInput{
		Slug: "bonus-credits", Name: "Bonus Credits",
		Type: domain.FeatureTypeUsageCreditGrant, Amount: &amount, UsageMeterSlug: &missing,
	})

	_, err := svc.Update(ctx, db, model.ID, input, &effectsRecorder{})

	var nferr *domain.NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "usage_meter", nferr.Entity)
}

func TestUpdate_EmitsEventAndInvalidation(t *testing.T) {
	svc, db, ctx, orgID := newTestService(t)
	model := setupModel(t, svc, db, ctx)
	rec := &effectsRecorder{}

	input := updateFromSetup(fullSetupInput())
	name := "Standard v2"
	input.Name = &name

	_, err := svc.Update(ctx, db, model.ID, input, rec)
	require.NoError(t, err)

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.EventPricingModelUpdated, rec.events[0].Type)
	assert.Equal(t, orgID, rec.events[0].OrgID)
	assert.Equal(t, []string{"pricing_model:" + model.ID.String()}, rec.keys)

	got, _, err := svc.Get(ctx, db, model.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standard v2", got.Name)
}

func TestGet_LivemodeIsolation(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	claim, _ := authctx.ClaimFromContext(ctx)
	claim.Livemode = false
	testCtx := authctx.WithClaim(context.Background(), claim)

	_, _, err := svc.Get(testCtx, db, model.ID)

	var nferr *domain.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestGet_UnknownModel(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	setupModel(t, svc, db, ctx)

	_, _, err := svc.Get(ctx, db, snowflake.ID(12345))

	var nferr *domain.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestGetDefault_ResolvesDefaultModel(t *testing.T) {
	svc, db, ctx, _ := newTestService(t)
	model := setupModel(t, svc, db, ctx)

	got, tree, err := svc.GetDefault(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, model.ID, got.ID)
	assert.Len(t, tree.Products, 2)
}
