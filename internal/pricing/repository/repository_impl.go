package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/internal/pricing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindModel(ctx context.Context, tx *gorm.DB, orgID, modelID snowflake.ID) (*domain.PricingModel, error) {
	var model domain.PricingModel
	err := tx.WithContext(ctx).
		Where("id = ? AND org_id = ?", modelID, orgID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &model, nil
}

func (r *repo) FindDefaultModel(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, livemode bool) (*domain.PricingModel, error) {
	var model domain.PricingModel
	err := tx.WithContext(ctx).
		Where("org_id = ? AND is_default = ? AND livemode = ?", orgID, true, livemode).
		Limit(1).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &model, nil
}

func (r *repo) CreateModel(ctx context.Context, tx *gorm.DB, model *domain.PricingModel) error {
	return tx.WithContext(ctx).Create(model).Error
}

func (r *repo) SaveModel(ctx context.Context, tx *gorm.DB, model *domain.PricingModel) error {
	return tx.WithContext(ctx).Save(model).Error
}

func (r *repo) ClearDefaultModels(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, livemode bool, exceptID snowflake.ID) error {
	return tx.WithContext(ctx).
		Model(&domain.PricingModel{}).
		Where("org_id = ? AND livemode = ? AND is_default = ? AND id <> ?", orgID, livemode, true, exceptID).
		Update("is_default", false).Error
}

func (r *repo) ListProducts(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]domain.Product, error) {
	var products []domain.Product
	err := tx.WithContext(ctx).
		Where("pricing_model_id = ? AND active = ?", modelID, true).
		Order("id").
		Find(&products).Error
	return products, err
}

func (r *repo) ListUsageMeters(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]domain.UsageMeter, error) {
	var meters []domain.UsageMeter
	err := tx.WithContext(ctx).
		Where("pricing_model_id = ? AND active = ?", modelID, true).
		Order("id").
		Find(&meters).Error
	return meters, err
}

func (r *repo) ListFeatures(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]domain.Feature, error) {
	var features []domain.Feature
	err := tx.WithContext(ctx).
		Where("pricing_model_id = ? AND active = ?", modelID, true).
		Order("id").
		Find(&features).Error
	return features, err
}

func (r *repo) ListResources(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]domain.Resource, error) {
	var resources []domain.Resource
	err := tx.WithContext(ctx).
		Where("pricing_model_id = ? AND active = ?", modelID, true).
		Order("id").
		Find(&resources).Error
	return resources, err
}

func (r *repo) ListActivePrices(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) ([]domain.Price, error) {
	var prices []domain.Price
	err := tx.WithContext(ctx).
		Where("pricing_model_id = ? AND active = ?", modelID, true).
		Order("id").
		Find(&prices).Error
	return prices, err
}

func (r *repo) ListProductFeatures(ctx context.Context, tx *gorm.DB, productIDs []snowflake.ID) ([]domain.ProductFeature, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var rows []domain.ProductFeature
	err := tx.WithContext(ctx).
		Where("product_id IN ?", productIDs).
		Order("id").
		Find(&rows).Error
	return rows, err
}

func (r *repo) CreateProducts(ctx context.Context, tx *gorm.DB, products []*domain.Product) error {
	if len(products) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(products).Error
}

func (r *repo) SaveProduct(ctx context.Context, tx *gorm.DB, product *domain.Product) error {
	return tx.WithContext(ctx).Save(product).Error
}

func (r *repo) DeactivateProducts(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&domain.Product{}).
		Where("id IN ?", ids).
		Update("active", false).Error
}

func (r *repo) CreatePrices(ctx context.Context, tx *gorm.DB, prices []*domain.Price) error {
	if len(prices) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(prices).Error
}

func (r *repo) DeactivatePrices(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&domain.Price{}).
		Where("id IN ?", ids).
		Update("active", false).Error
}

// UpsertUsageMeters inserts meters in one statement, skipping slugs that
// already exist in the model. Callers re-query the slug map afterwards to
// learn the surviving IDs.
func (r *repo) UpsertUsageMeters(ctx context.Context, tx *gorm.DB, meters []*domain.UsageMeter) error {
	if len(meters) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pricing_model_id"}, {Name: "slug"}},
			DoNothing: true,
		}).
		Create(meters).Error
}

func (r *repo) SaveUsageMeter(ctx context.Context, tx *gorm.DB, meter *domain.UsageMeter) error {
	return tx.WithContext(ctx).Save(meter).Error
}

func (r *repo) UsageMeterIDsBySlug(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (map[string]snowflake.ID, error) {
	var meters []domain.UsageMeter
	err := tx.WithContext(ctx).
		Select("id", "slug").
		Where("pricing_model_id = ? AND active = ?", modelID, true).
		Find(&meters).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]snowflake.ID, len(meters))
	for _, m := range meters {
		out[m.Slug] = m.ID
	}
	return out, nil
}

func (r *repo) CreateResources(ctx context.Context, tx *gorm.DB, resources []*domain.Resource) error {
	if len(resources) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(resources).Error
}

func (r *repo) SaveResource(ctx context.Context, tx *gorm.DB, resource *domain.Resource) error {
	return tx.WithContext(ctx).Save(resource).Error
}

func (r *repo) DeactivateResources(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&domain.Resource{}).
		Where("id IN ?", ids).
		Update("active", false).Error
}

func (r *repo) ResourceIDsBySlug(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (map[string]snowflake.ID, error) {
	var resources []domain.Resource
	err := tx.WithContext(ctx).
		Select("id", "slug").
		Where("pricing_model_id = ? AND active = ?", modelID, true).
		Find(&resources).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]snowflake.ID, len(resources))
	for _, res := range resources {
		out[res.Slug] = res.ID
	}
	return out, nil
}

func (r *repo) CreateFeatures(ctx context.Context, tx *gorm.DB, features []*domain.Feature) error {
	if len(features) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(features).Error
}

func (r *repo) SaveFeature(ctx context.Context, tx *gorm.DB, feature *domain.Feature) error {
	return tx.WithContext(ctx).Save(feature).Error
}

func (r *repo) DeactivateFeatures(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&domain.Feature{}).
		Where("id IN ?", ids).
		Update("active", false).Error
}

func (r *repo) FeatureIDsBySlug(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (map[string]snowflake.ID, error) {
	var features []domain.Feature
	err := tx.WithContext(ctx).
		Select("id", "slug").
		Where("pricing_model_id = ? AND active = ?", modelID, true).
		Find(&features).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]snowflake.ID, len(features))
	for _, f := range features {
		out[f.Slug] = f.ID
	}
	return out, nil
}

func (r *repo) InsertProductFeatures(ctx context.Context, tx *gorm.DB, rows []*domain.ProductFeature) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(rows).Error
}

func (r *repo) ExpireProductFeatures(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&domain.ProductFeature{}).
		Where("id IN ?", ids).
		Update("expired_at", at).Error
}

func (r *repo) UnexpireProductFeatures(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&domain.ProductFeature{}).
		Where("id IN ?", ids).
		Update("expired_at", nil).Error
}
