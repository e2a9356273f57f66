package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaim_EncodeJSON_FieldNames(t *testing.T) {
	claim := Claim{
		UserID:         "101",
		OrganizationID: "202",
		Email:          "owner@acme.test",
		Role:           RoleMerchant,
		AuthType:       AuthTypeAPIKey,
		Livemode:       true,
		PricingModelID: "303",
		IssuedAt:       1700000000,
		ExpiresAt:      1700003600,
	}

	encoded, err := claim.EncodeJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(encoded), &decoded))

	// The SQL policies read these keys; a rename here silently breaks
	// row-level security.
	assert.Equal(t, "101", decoded["sub"])
	assert.Equal(t, "202", decoded["organization_id"])
	assert.Equal(t, "owner@acme.test", decoded["email"])
	assert.Equal(t, "merchant", decoded["role"])
	assert.Equal(t, "api_key", decoded["auth_type"])
	assert.Equal(t, true, decoded["livemode"])
	assert.Equal(t, "303", decoded["pricing_model_id"])
	assert.Equal(t, float64(1700000000), decoded["iat"])
	assert.Equal(t, float64(1700003600), decoded["exp"])
}

func TestClaim_EncodeJSON_OmitsEmptyPricingModel(t *testing.T) {
	claim := Claim{UserID: "101", Role: RoleMerchant, AuthType: AuthTypeWebapp}

	encoded, err := claim.EncodeJSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(encoded), &decoded))
	_, present := decoded["pricing_model_id"]
	assert.False(t, present)
}

func TestClaim_Valid(t *testing.T) {
	valid := Claim{UserID: "101", Role: RoleMerchant, AuthType: AuthTypeWebapp}
	assert.True(t, valid.Valid())

	assert.False(t, Claim{Role: RoleMerchant, AuthType: AuthTypeWebapp}.Valid())
	assert.False(t, Claim{UserID: "101", AuthType: AuthTypeWebapp}.Valid())
	assert.False(t, Claim{UserID: "101", Role: RoleMerchant}.Valid())
}

func TestClaimFromTransactionContext(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	merchant := ClaimFromTransactionContext(TransactionContext{
		Type:           ContextTypeMerchant,
		UserID:         "101",
		OrganizationID: "202",
		Livemode:       true,
	}, now)
	assert.Equal(t, RoleMerchant, merchant.Role)
	assert.Equal(t, AuthTypeAPIKey, merchant.AuthType)
	assert.Equal(t, now.Unix(), merchant.IssuedAt)
	assert.Equal(t, now.Add(time.Hour).Unix(), merchant.ExpiresAt)
	assert.True(t, merchant.Valid())

	customer := ClaimFromTransactionContext(TransactionContext{
		Type:           ContextTypeCustomer,
		UserID:         "301",
		OrganizationID: "202",
	}, now)
	assert.Equal(t, RoleCustomer, customer.Role)
	assert.Equal(t, AuthTypeWebapp, customer.AuthType)
}
