package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/internal/events"
	"gorm.io/gorm"
)

// Effector receives the side effects a pricing operation wants performed
// if and only if its transaction commits. The transaction runner's effects
// accumulator satisfies it.
type Effector interface {
	EmitEvent(evts ...events.Event)
	InvalidateCache(keys ...string)
}

// UpdateResult summarizes what one pricing-model update actually wrote.
type UpdateResult struct {
	Model *PricingModel

	ProductsCreated int
	ProductsUpdated int
	ProductsRemoved int

	PricesCreated     int
	PricesDeactivated int

	FeaturesCreated int
	FeaturesUpdated int
	FeaturesRemoved int

	UsageMetersCreated int
	UsageMetersUpdated int

	ResourcesCreated int
	ResourcesUpdated int
	ResourcesRemoved int

	FeatureLinksAdded    int
	FeatureLinksExpired  int
	FeatureLinksRestored int
}

// Service is the pricing-model write surface. Both operations expect to run
// inside an already-bound transaction and derive organization and livemode
// from the claim in ctx.
type Service interface {
	Get(ctx context.Context, tx *gorm.DB, modelID snowflake.ID) (*PricingModel, *Tree, error)
	GetDefault(ctx context.Context, tx *gorm.DB) (*PricingModel, *Tree, error)
	Setup(ctx context.Context, tx *gorm.DB, input SetupInput, effects Effector) (*PricingModel, error)
	Update(ctx context.Context, tx *gorm.DB, modelID snowflake.ID, input UpdateInput, effects Effector) (*UpdateResult, error)
}
