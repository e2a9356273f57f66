package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPricingModelNotFound = errors.New("pricing_model_not_found")
	ErrDefaultModelConflict = errors.New("default_pricing_model_conflict")
	ErrMissingOrganization  = errors.New("missing_organization_claim")
)

// ValidationError reports a structural rule the proposed configuration
// violates. The whole update is rejected before any row is touched.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pricing validation failed (%s): %s", e.Rule, e.Message)
}

func NewValidationError(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a reference to an entity that does not exist in the
// pricing model, usually a dangling slug.
type NotFoundError struct {
	Entity string
	Slug   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Slug)
}

func NewNotFoundError(entity, slug string) *NotFoundError {
	return &NotFoundError{Entity: entity, Slug: slug}
}
