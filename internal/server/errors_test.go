package server

import (
	"errors"
	"net/http"
	"testing"

	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	"github.com/flowglad/flowglad/internal/authorization"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	pricingdomain "github.com/flowglad/flowglad/internal/pricing/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"validation error", pricingdomain.NewValidationError("default_product", "at most one"), http.StatusBadRequest, "validation_error"},
		{"dangling slug", pricingdomain.NewNotFoundError("usage_meter", "api-calls"), http.StatusNotFound, "not_found"},
		{"no identity", identitydomain.ErrNoIdentity, http.StatusUnauthorized, "unauthorized"},
		{"bad api key", apikeydomain.ErrInvalidKey, http.StatusUnauthorized, "unauthorized"},
		{"unmigrated key", apikeydomain.ErrUnmigratedKey, http.StatusUnauthorized, "unauthorized"},
		{"forbidden", authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"customer missing", identitydomain.ErrCustomerNotFound, http.StatusNotFound, "not_found"},
		{"key missing", apikeydomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"record missing", gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
		{"bad key name", apikeydomain.ErrInvalidName, http.StatusBadRequest, "invalid_request"},
		{"no default model for key", apikeydomain.ErrNoDefaultModel, http.StatusBadRequest, "invalid_request"},
		{"conflict", ErrConflict, http.StatusConflict, "conflict"},
		{"rate limited", ErrTooManyReqs, http.StatusTooManyRequests, "rate_limited"},
		{"bad request", ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{"unknown", errors.New("kaboom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}
}

func TestMapError_ValidationCarriesRule(t *testing.T) {
	status, payload := mapError(pricingdomain.NewValidationError("usage_meter_removal", "meter %q cannot be removed", "api-calls"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "usage_meter_removal", payload.Code)
	assert.Contains(t, payload.Message, "api-calls")
}

func TestMapError_WrappedErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), authorization.ErrForbidden)
	status, _ := mapError(wrapped)
	assert.Equal(t, http.StatusForbidden, status)
}
