package domain

// Input types describe the desired shape of a pricing model. Diffing always
// runs over these shapes; existing database rows are converted to the same
// shape first so both sides of a comparison share one representation.

type PriceInput struct {
	Slug          string       `json:"slug"`
	Type          PriceType    `json:"type"`
	UnitAmount    int64        `json:"unitAmount"`
	Currency      string       `json:"currency"`
	IntervalUnit  IntervalUnit `json:"intervalUnit,omitempty"`
	IntervalCount int32        `json:"intervalCount,omitempty"`
}

func (p PriceInput) GetSlug() string { return p.Slug }

type ProductInput struct {
	Slug         string     `json:"slug"`
	Name         string     `json:"name"`
	Description  *string    `json:"description,omitempty"`
	Default      bool       `json:"default"`
	Price        PriceInput `json:"price"`
	FeatureSlugs []string   `json:"featureSlugs,omitempty"`
}

func (p ProductInput) GetSlug() string { return p.Slug }

type UsageMeterInput struct {
	Slug        string          `json:"slug"`
	Name        string          `json:"name"`
	Aggregation AggregationType `json:"aggregation,omitempty"`
	Prices      []PriceInput    `json:"prices,omitempty"`
}

func (m UsageMeterInput) GetSlug() string { return m.Slug }

type FeatureInput struct {
	Slug           string      `json:"slug"`
	Name           string      `json:"name"`
	Description    *string     `json:"description,omitempty"`
	Type           FeatureType `json:"type"`
	Amount         *int64      `json:"amount,omitempty"`
	UsageMeterSlug *string     `json:"usageMeterSlug,omitempty"`
	ResourceSlug   *string     `json:"resourceSlug,omitempty"`
}

func (f FeatureInput) GetSlug() string { return f.Slug }

type ResourceInput struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

func (r ResourceInput) GetSlug() string { return r.Slug }

// Tree is a full input-shaped pricing model, either proposed by the caller
// or reconstructed from current rows.
type Tree struct {
	Name        string            `json:"name"`
	IsDefault   bool              `json:"isDefault"`
	Products    []ProductInput    `json:"products"`
	Features    []FeatureInput    `json:"features,omitempty"`
	UsageMeters []UsageMeterInput `json:"usageMeters,omitempty"`
	Resources   []ResourceInput   `json:"resources,omitempty"`
}

// UpdateInput is the payload of a pricing-model update. Nil Name keeps the
// current name; the collections are the complete desired state, so an
// omitted slug means removal.
type UpdateInput struct {
	Name        *string           `json:"name,omitempty"`
	IsDefault   *bool             `json:"isDefault,omitempty"`
	Products    []ProductInput    `json:"products"`
	Features    []FeatureInput    `json:"features,omitempty"`
	UsageMeters []UsageMeterInput `json:"usageMeters,omitempty"`
	Resources   []ResourceInput   `json:"resources,omitempty"`
}

// SetupInput creates a pricing model from scratch.
type SetupInput struct {
	Name        string            `json:"name"`
	IsDefault   bool              `json:"isDefault"`
	Products    []ProductInput    `json:"products"`
	Features    []FeatureInput    `json:"features,omitempty"`
	UsageMeters []UsageMeterInput `json:"usageMeters,omitempty"`
	Resources   []ResourceInput   `json:"resources,omitempty"`
}
