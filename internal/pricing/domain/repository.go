package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the data access surface of the pricing area. Every method
// takes the caller's transaction handle so the update flow stays atomic.
type Repository interface {
	FindModel(ctx context.Context, tx *gorm.DB, orgID, modelID snowflake.ID) (*PricingModel, error)
	FindDefaultModel(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, livemode bool) (*PricingModel, error)
	CreateModel(ctx context.Context, tx *gorm.DB, model *PricingModel) error
	SaveModel(ctx context.Context, tx *gorm.DB, model *PricingModel) error
	ClearDefaultModels(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, livemode bool, exceptID snowflake.ID) error

	ListProducts(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]Product, error)
	ListUsageMeters(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]UsageMeter, error)
	ListFeatures(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]Feature, error)
	ListResources(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]Resource, error)
	ListActivePrices(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]Price, error)
	ListProductFeatures(ctx context.Context, tx *gorm.DB, productIDs []snowflake.ID) ([]ProductFeature, error)

	CreateProducts(ctx context.Context, tx *gorm.DB, products []*Product) error
	SaveProduct(ctx context.Context, tx *gorm.DB, product *Product) error
	DeactivateProducts(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error

	CreatePrices(ctx context.Context, tx *gorm.DB, prices []*Price) error
	DeactivatePrices(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error

	UpsertUsageMeters(ctx context.Context, tx *gorm.DB, meters []*UsageMeter) error
	SaveUsageMeter(ctx context.Context, tx *gorm.DB, meter *UsageMeter) error
	UsageMeterIDsBySlug(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (map[string]snowflake.ID, error)

	CreateResources(ctx context.Context, tx *gorm.DB, resources []*Resource) error
	SaveResource(ctx context.Context, tx *gorm.DB, resource *Resource) error
	DeactivateResources(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error
	ResourceIDsBySlug(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (map[string]snowflake.ID, error)

	CreateFeatures(ctx context.Context, tx *gorm.DB, features []*Feature) error
	SaveFeature(ctx context.Context, tx *gorm.DB, feature *Feature) error
	DeactivateFeatures(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error
	FeatureIDsBySlug(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (map[string]snowflake.ID, error)

	InsertProductFeatures(ctx context.Context, tx *gorm.DB, rows []*ProductFeature) error
	ExpireProductFeatures(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, at time.Time) error
	UnexpireProductFeatures(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error
}
