// Package diff computes the set difference between the current state of a
// pricing model and a proposed one. Slugs are the stable identity of every
// nested resource, so the comparison is pure data work and never touches
// the database.
package diff

import (
	"encoding/json"

	"github.com/flowglad/flowglad/internal/pricing/domain"
)

// Slugged is anything addressable by a slug within one pricing model.
type Slugged interface {
	GetSlug() string
}

// UpdatePair carries both sides of a changed resource so the apply step can
// compute a minimal update.
type UpdatePair[T Slugged] struct {
	Existing T
	Proposed T
}

// Result partitions a proposed collection against an existing one. Every
// existing slug lands in exactly one of ToRemove or ToUpdate, and every
// proposed slug in exactly one of ToCreate or ToUpdate. Order follows the
// input slices, so results are deterministic.
type Result[T Slugged] struct {
	ToCreate []T
	ToRemove []T
	ToUpdate []UpdatePair[T]
}

// SluggedResources diffs two collections by slug. Pairs that are deeply
// equal still appear in ToUpdate; the apply step skips no-op updates.
func SluggedResources[T Slugged](existing, proposed []T) Result[T] {
	proposedBySlug := make(map[string]T, len(proposed))
	for _, p := range proposed {
		proposedBySlug[p.GetSlug()] = p
	}
	existingBySlug := make(map[string]T, len(existing))
	for _, e := range existing {
		existingBySlug[e.GetSlug()] = e
	}

	var out Result[T]
	for _, e := range existing {
		if p, ok := proposedBySlug[e.GetSlug()]; ok {
			out.ToUpdate = append(out.ToUpdate, UpdatePair[T]{Existing: e, Proposed: p})
		} else {
			out.ToRemove = append(out.ToRemove, e)
		}
	}
	for _, p := range proposed {
		if _, ok := existingBySlug[p.GetSlug()]; !ok {
			out.ToCreate = append(out.ToCreate, p)
		}
	}
	return out
}

// PriceChange describes a product whose price terms changed. Price rows are
// immutable, so a change always means deactivate-then-insert.
type PriceChange struct {
	Existing domain.PriceInput
	Proposed domain.PriceInput
}

// ProductUpdate is a product present on both sides. PriceChange is nil when
// the price terms are identical.
type ProductUpdate struct {
	Existing    domain.ProductInput
	Proposed    domain.ProductInput
	PriceChange *PriceChange
}

type ProductResult struct {
	ToCreate []domain.ProductInput
	ToRemove []domain.ProductInput
	ToUpdate []ProductUpdate
}

// Products diffs product collections and, for retained products, compares
// price terms by deep value equality.
func Products(existing, proposed []domain.ProductInput) ProductResult {
	base := SluggedResources(existing, proposed)
	out := ProductResult{ToCreate: base.ToCreate, ToRemove: base.ToRemove}
	for _, pair := range base.ToUpdate {
		u := ProductUpdate{Existing: pair.Existing, Proposed: pair.Proposed}
		if !deepEqual(pair.Existing.Price, pair.Proposed.Price) {
			u.PriceChange = &PriceChange{Existing: pair.Existing.Price, Proposed: pair.Proposed.Price}
		}
		out.ToUpdate = append(out.ToUpdate, u)
	}
	return out
}

// ModelDiff is the full change set of a pricing-model update.
type ModelDiff struct {
	Features    Result[domain.FeatureInput]
	Resources   Result[domain.ResourceInput]
	UsageMeters Result[domain.UsageMeterInput]
	Products    ProductResult
}

// PricingModel diffs two full trees and enforces the structural rules that
// make a diff unappliable regardless of database state: usage meters can
// never be removed, and a feature cannot change its type.
func PricingModel(existing, proposed domain.Tree) (ModelDiff, error) {
	meters := SluggedResources(existing.UsageMeters, proposed.UsageMeters)
	if len(meters.ToRemove) > 0 {
		return ModelDiff{}, domain.NewValidationError(
			"usage_meter_removal",
			"usage meter %q cannot be removed; meters may accumulate usage referenced by open billing periods",
			meters.ToRemove[0].Slug,
		)
	}

	features := SluggedResources(existing.Features, proposed.Features)
	for _, pair := range features.ToUpdate {
		if pair.Existing.Type != pair.Proposed.Type {
			return ModelDiff{}, domain.NewValidationError(
				"feature_type_change",
				"feature %q cannot change type from %s to %s",
				pair.Proposed.Slug, pair.Existing.Type, pair.Proposed.Type,
			)
		}
	}

	return ModelDiff{
		Features:    features,
		Resources:   SluggedResources(existing.Resources, proposed.Resources),
		UsageMeters: meters,
		Products:    Products(existing.Products, proposed.Products),
	}, nil
}

// deepEqual compares two values through their JSON encoding, so pointer
// fields compare by pointee and zero-valued optional fields compare equal
// to omitted ones.
func deepEqual(a, b any) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ja) == string(jb)
}

// Changed reports whether an update pair differs by deep value equality.
// The apply step uses it to skip writes for untouched resources.
func Changed[T Slugged](pair UpdatePair[T]) bool {
	return !deepEqual(pair.Existing, pair.Proposed)
}
