package service

import (
	"strings"

	"github.com/flowglad/flowglad/internal/pricing/domain"
	gosimpleslug "github.com/gosimple/slug"
)

// validateTree checks the structural rules of a proposed configuration.
// It runs before any row is read or written, so a rejected proposal leaves
// the model untouched.
func validateTree(tree domain.Tree) error {
	if strings.TrimSpace(tree.Name) == "" {
		return domain.NewValidationError("model_name", "pricing model name is required")
	}

	if err := uniqueSlugs("product", productSlugs(tree.Products)); err != nil {
		return err
	}
	if err := uniqueSlugs("feature", featureSlugs(tree.Features)); err != nil {
		return err
	}
	if err := uniqueSlugs("usage_meter", meterSlugs(tree.UsageMeters)); err != nil {
		return err
	}
	if err := uniqueSlugs("resource", resourceSlugs(tree.Resources)); err != nil {
		return err
	}

	defaults := 0
	for _, p := range tree.Products {
		if strings.TrimSpace(p.Name) == "" {
			return domain.NewValidationError("product_name", "product %q is missing a name", p.Slug)
		}
		if p.Default {
			defaults++
		}
		if err := validatePrice(p.Price, false); err != nil {
			return err
		}
	}
	if defaults > 1 {
		return domain.NewValidationError("default_product", "a pricing model can have at most one default product")
	}

	for _, m := range tree.UsageMeters {
		if strings.TrimSpace(m.Name) == "" {
			return domain.NewValidationError("usage_meter_name", "usage meter %q is missing a name", m.Slug)
		}
		if err := uniqueSlugs("price", priceSlugs(m.Prices)); err != nil {
			return err
		}
		for _, price := range m.Prices {
			if err := validatePrice(price, true); err != nil {
				return err
			}
		}
	}

	for _, f := range tree.Features {
		if strings.TrimSpace(f.Name) == "" {
			return domain.NewValidationError("feature_name", "feature %q is missing a name", f.Slug)
		}
		switch f.Type {
		case domain.FeatureTypeToggle:
			if f.Amount != nil || f.UsageMeterSlug != nil || f.ResourceSlug != nil {
				return domain.NewValidationError("feature_shape", "toggle feature %q carries grant or resource fields", f.Slug)
			}
		case domain.FeatureTypeUsageCreditGrant:
			if f.Amount == nil || *f.Amount <= 0 {
				return domain.NewValidationError("feature_shape", "credit grant feature %q requires a positive amount", f.Slug)
			}
			if f.UsageMeterSlug == nil || *f.UsageMeterSlug == "" {
				return domain.NewValidationError("feature_shape", "credit grant feature %q requires a usage meter", f.Slug)
			}
		case domain.FeatureTypeResource:
			if f.ResourceSlug == nil || *f.ResourceSlug == "" {
				return domain.NewValidationError("feature_shape", "resource feature %q requires a resource", f.Slug)
			}
		default:
			return domain.NewValidationError("feature_type", "feature %q has unknown type %q", f.Slug, f.Type)
		}
	}
	return nil
}

func validatePrice(price domain.PriceInput, meterScoped bool) error {
	if strings.TrimSpace(price.Slug) == "" {
		return domain.NewValidationError("price_slug", "price slug is required")
	}
	if strings.TrimSpace(price.Currency) == "" {
		return domain.NewValidationError("price_currency", "price %q is missing a currency", price.Slug)
	}
	if price.UnitAmount < 0 {
		return domain.NewValidationError("price_amount", "price %q has a negative unit amount", price.Slug)
	}
	switch price.Type {
	case domain.PriceTypeSubscription:
		if meterScoped {
			return domain.NewValidationError("price_type", "usage meter price %q must be of type usage", price.Slug)
		}
	case domain.PriceTypeUsage:
	default:
		return domain.NewValidationError("price_type", "price %q has unknown type %q", price.Slug, price.Type)
	}
	return nil
}

func uniqueSlugs(kind string, slugs []string) error {
	seen := make(map[string]struct{}, len(slugs))
	for _, slug := range slugs {
		if strings.TrimSpace(slug) == "" {
			return domain.NewValidationError(kind+"_slug", "%s slug is required", kind)
		}
		if !gosimpleslug.IsSlug(slug) {
			return domain.NewValidationError(kind+"_slug", "%s slug %q is not url safe", kind, slug)
		}
		if _, ok := seen[slug]; ok {
			return domain.NewValidationError(kind+"_slug", "duplicate %s slug %q", kind, slug)
		}
		seen[slug] = struct{}{}
	}
	return nil
}

func productSlugs(in []domain.ProductInput) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.Slug
	}
	return out
}

func featureSlugs(in []domain.FeatureInput) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.Slug
	}
	return out
}

func meterSlugs(in []domain.UsageMeterInput) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.Slug
	}
	return out
}

func resourceSlugs(in []domain.ResourceInput) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.Slug
	}
	return out
}

func priceSlugs(in []domain.PriceInput) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = v.Slug
	}
	return out
}

// normalizePrice fills interval defaults so equality comparisons do not
// treat an omitted monthly interval as a change.
func normalizePrice(price domain.PriceInput) domain.PriceInput {
	if price.IntervalUnit == "" {
		price.IntervalUnit = domain.IntervalMonth
	}
	if price.IntervalCount <= 0 {
		price.IntervalCount = 1
	}
	return price
}

func normalizeTree(tree domain.Tree) domain.Tree {
	for i := range tree.Products {
		if tree.Products[i].Slug == "" && tree.Products[i].Name != "" {
			tree.Products[i].Slug = gosimpleslug.Make(tree.Products[i].Name)
		}
		tree.Products[i].Price = normalizePrice(tree.Products[i].Price)
	}
	for i := range tree.UsageMeters {
		if tree.UsageMeters[i].Aggregation == "" {
			tree.UsageMeters[i].Aggregation = domain.AggregationSum
		}
		for j := range tree.UsageMeters[i].Prices {
			tree.UsageMeters[i].Prices[j] = normalizePrice(tree.UsageMeters[i].Prices[j])
		}
	}
	return tree
}
