package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PricingModel is the root of one configuration graph. An organization has
// many models; one of them is the default new customers land on.
type PricingModel struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"column:org_id;not null;index"`
	Name      string       `gorm:"type:text;not null"`
	IsDefault bool         `gorm:"not null;default:false"`
	Livemode  bool         `gorm:"not null;default:true"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PricingModel) TableName() string { return "pricing_models" }

type Product struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	OrgID          snowflake.ID      `gorm:"column:org_id;not null;index"`
	PricingModelID snowflake.ID      `gorm:"column:pricing_model_id;not null;index:ux_products_model_slug,priority:1"`
	Slug           string            `gorm:"type:text;not null;index:ux_products_model_slug,priority:2"`
	Name           string            `gorm:"type:text;not null"`
	Description    *string           `gorm:"type:text"`
	Default        bool              `gorm:"column:is_default;not null;default:false"`
	Active         bool              `gorm:"not null;default:true"`
	Livemode       bool              `gorm:"not null;default:true"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }

type PriceType string

const (
	PriceTypeSubscription PriceType = "subscription"
	PriceTypeUsage        PriceType = "usage"
)

type IntervalUnit string

const (
	IntervalDay   IntervalUnit = "day"
	IntervalWeek  IntervalUnit = "week"
	IntervalMonth IntervalUnit = "month"
	IntervalYear  IntervalUnit = "year"
)

// Price rows are immutable in their terms. Changing a price always
// deactivates the old row and inserts a new one, so subscriptions keep the
// terms they signed up under. Exactly one of ProductID / UsageMeterID is set.
type Price struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrgID          snowflake.ID  `gorm:"column:org_id;not null;index"`
	PricingModelID snowflake.ID  `gorm:"column:pricing_model_id;not null;index"`
	ProductID      *snowflake.ID `gorm:"column:product_id;index"`
	UsageMeterID   *snowflake.ID `gorm:"column:usage_meter_id;index"`
	Slug           string        `gorm:"type:text;not null"`
	Type           PriceType     `gorm:"type:text;not null"`
	UnitAmount     int64         `gorm:"not null"`
	Currency       string        `gorm:"type:text;not null"`
	IntervalUnit   IntervalUnit  `gorm:"type:text;not null;default:month"`
	IntervalCount  int32         `gorm:"not null;default:1"`
	IsDefault      bool          `gorm:"not null;default:false"`
	Active         bool          `gorm:"not null;default:true"`
	Livemode       bool          `gorm:"not null;default:true"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Price) TableName() string { return "prices" }

type AggregationType string

const (
	AggregationSum           AggregationType = "sum"
	AggregationCountDistinct AggregationType = "count_distinct_properties"
)

// UsageMeter measures consumption. Meters own their own prices and can
// never be removed through a pricing-model update.
type UsageMeter struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	OrgID          snowflake.ID    `gorm:"column:org_id;not null;index"`
	PricingModelID snowflake.ID    `gorm:"column:pricing_model_id;not null;uniqueIndex:ux_usage_meters_model_slug,priority:1"`
	Slug           string          `gorm:"type:text;not null;uniqueIndex:ux_usage_meters_model_slug,priority:2"`
	Name           string          `gorm:"type:text;not null"`
	Aggregation    AggregationType `gorm:"type:text;not null;default:sum"`
	Active         bool            `gorm:"not null;default:true"`
	Livemode       bool            `gorm:"not null;default:true"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageMeter) TableName() string { return "usage_meters" }

type Resource struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"column:org_id;not null;index"`
	PricingModelID snowflake.ID `gorm:"column:pricing_model_id;not null;index:ux_resources_model_slug,priority:1"`
	Slug           string       `gorm:"type:text;not null;index:ux_resources_model_slug,priority:2"`
	Name           string       `gorm:"type:text;not null"`
	Active         bool         `gorm:"not null;default:true"`
	Livemode       bool         `gorm:"not null;default:true"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Resource) TableName() string { return "resources" }

type FeatureType string

const (
	FeatureTypeToggle           FeatureType = "toggle"
	FeatureTypeUsageCreditGrant FeatureType = "usage_credit_grant"
	FeatureTypeResource         FeatureType = "resource"
)

type Feature struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	OrgID          snowflake.ID      `gorm:"column:org_id;not null;index"`
	PricingModelID snowflake.ID      `gorm:"column:pricing_model_id;not null;index:ux_features_model_slug,priority:1"`
	Slug           string            `gorm:"type:text;not null;index:ux_features_model_slug,priority:2"`
	Name           string            `gorm:"type:text;not null"`
	Description    *string           `gorm:"type:text"`
	Type           FeatureType       `gorm:"column:feature_type;type:text;not null"`
	Amount         *int64            `gorm:"column:amount"`
	UsageMeterID   *snowflake.ID     `gorm:"column:usage_meter_id"`
	ResourceID     *snowflake.ID     `gorm:"column:resource_id"`
	Active         bool              `gorm:"not null;default:true"`
	Livemode       bool              `gorm:"not null;default:true"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Feature) TableName() string { return "features" }

// ProductFeature is the product↔feature junction. Detachment is a soft
// expiry so entitlement history survives; re-attachment clears it.
type ProductFeature struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"column:org_id;not null;index"`
	ProductID snowflake.ID `gorm:"column:product_id;not null;uniqueIndex:ux_product_features_pair,priority:1"`
	FeatureID snowflake.ID `gorm:"column:feature_id;not null;uniqueIndex:ux_product_features_pair,priority:2"`
	ExpiredAt *time.Time   `gorm:"column:expired_at"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProductFeature) TableName() string { return "product_features" }
