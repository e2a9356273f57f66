package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	"github.com/flowglad/flowglad/internal/apikey/repository"
	"github.com/flowglad/flowglad/internal/apikey/verifier"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	pricingdomain "github.com/flowglad/flowglad/internal/pricing/domain"
	pricingrepo "github.com/flowglad/flowglad/internal/pricing/repository"
	"github.com/flowglad/flowglad/pkg/authctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type apikeyFixture struct {
	svc         apikeydomain.Service
	verifier    apikeydomain.Verifier
	db          *gorm.DB
	ctx         context.Context
	orgID       snowflake.ID
	userID      snowflake.ID
	liveModelID snowflake.ID
	testModelID snowflake.ID
}

func newAPIKeyFixture(t *testing.T) *apikeyFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&apikeydomain.APIKey{}, &pricingdomain.PricingModel{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := repository.Provide()
	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: repo, Pricing: pricingrepo.Provide()})
	local := verifier.NewLocal(verifier.LocalParams{DB: db, Log: zap.NewNop(), Repo: repo})

	orgID := node.Generate()
	userID := node.Generate()
	ctx := authctx.WithClaim(context.Background(), identitydomain.Claim{
		UserID:         userID.String(),
		OrganizationID: orgID.String(),
		Role:           identitydomain.RoleMerchant,
		AuthType:       identitydomain.AuthTypeWebapp,
		Livemode:       true,
	})

	f := &apikeyFixture{svc: svc, verifier: local, db: db, ctx: ctx, orgID: orgID, userID: userID}
	f.liveModelID = seedDefaultModel(t, db, node, orgID, true)
	f.testModelID = seedDefaultModel(t, db, node, orgID, false)
	return f
}

func seedDefaultModel(t *testing.T, db *gorm.DB, node *snowflake.Node, orgID snowflake.ID, livemode bool) snowflake.ID {
	t.Helper()
	now := time.Now().UTC()
	model := pricingdomain.PricingModel{
		ID:        node.Generate(),
		OrgID:     orgID,
		Name:      "Default",
		IsDefault: true,
		Livemode:  livemode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(&model).Error)
	return model.ID
}

func TestAPIKey_CreateAndVerify(t *testing.T) {
	f := newAPIKeyFixture(t)
	modelID := "1234567890"

	secret, err := f.svc.Create(f.ctx, apikeydomain.CreateRequest{
		Name:           "ci",
		Livemode:       true,
		PricingModelID: &modelID,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret.APIKey, apikeydomain.LivePrefix))
	assert.True(t, strings.HasPrefix(secret.KeyID, "key_"))

	result, err := f.verifier.Verify(context.Background(), secret.APIKey)
	require.NoError(t, err)
	assert.Equal(t, apikeydomain.KeyTypeSecret, result.Type)
	assert.Equal(t, f.orgID.String(), result.OrganizationID)
	assert.Equal(t, f.userID.String(), result.UserID)
	assert.Equal(t, modelID, result.PricingModelID)
	assert.True(t, result.Livemode)

	// Only the hash is stored.
	var stored apikeydomain.APIKey
	require.NoError(t, f.db.Where("key_id = ?", secret.KeyID).First(&stored).Error)
	assert.NotEqual(t, secret.APIKey, stored.KeyHash)
	assert.Equal(t, apikeydomain.HashAPIKey(secret.APIKey), stored.KeyHash)
}

func TestAPIKey_TestmodePrefix(t *testing.T) {
	f := newAPIKeyFixture(t)

	secret, err := f.svc.Create(f.ctx, apikeydomain.CreateRequest{Name: "dev", Livemode: false})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret.APIKey, apikeydomain.TestPrefix))

	var stored apikeydomain.APIKey
	require.NoError(t, f.db.Where("key_id = ?", secret.KeyID).First(&stored).Error)
	require.NotNil(t, stored.PricingModelID)
	assert.Equal(t, f.testModelID, *stored.PricingModelID)
}

// A key created without an explicit pricing model must still be usable:
// it is pinned to the org default, so verification carries a model id and
// the identity resolver's missing-model rejection never fires for it.
func TestAPIKey_CreatePinsDefaultPricingModel(t *testing.T) {
	f := newAPIKeyFixture(t)

	secret, err := f.svc.Create(f.ctx, apikeydomain.CreateRequest{Name: "ci", Livemode: true})
	require.NoError(t, err)

	var stored apikeydomain.APIKey
	require.NoError(t, f.db.Where("key_id = ?", secret.KeyID).First(&stored).Error)
	require.NotNil(t, stored.PricingModelID)
	assert.Equal(t, f.liveModelID, *stored.PricingModelID)

	result, err := f.verifier.Verify(context.Background(), secret.APIKey)
	require.NoError(t, err)
	assert.Equal(t, f.liveModelID.String(), result.PricingModelID)
}

func TestAPIKey_CreateWithoutDefaultModel(t *testing.T) {
	f := newAPIKeyFixture(t)
	bare := authctx.WithClaim(context.Background(), identitydomain.Claim{
		UserID:         f.userID.String(),
		OrganizationID: snowflake.ID(999).String(),
		Role:           identitydomain.RoleMerchant,
		AuthType:       identitydomain.AuthTypeWebapp,
		Livemode:       true,
	})

	_, err := f.svc.Create(bare, apikeydomain.CreateRequest{Name: "ci", Livemode: true})
	assert.ErrorIs(t, err, apikeydomain.ErrNoDefaultModel)
}

func TestAPIKey_CreateRequiresName(t *testing.T) {
	f := newAPIKeyFixture(t)

	_, err := f.svc.Create(f.ctx, apikeydomain.CreateRequest{Name: "  "})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)
}

func TestAPIKey_CreateRequiresClaim(t *testing.T) {
	f := newAPIKeyFixture(t)

	_, err := f.svc.Create(context.Background(), apikeydomain.CreateRequest{Name: "ci"})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidOrganization)
}

func TestAPIKey_ListScopedToOrg(t *testing.T) {
	f := newAPIKeyFixture(t)
	_, err := f.svc.Create(f.ctx, apikeydomain.CreateRequest{Name: "one", Livemode: true})
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, apikeydomain.CreateRequest{Name: "two", Livemode: false})
	require.NoError(t, err)

	keys, err := f.svc.List(f.ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	otherClaim := identitydomain.Claim{
		UserID:         f.userID.String(),
		OrganizationID: snowflake.ID(999).String(),
		Role:           identitydomain.RoleMerchant,
		AuthType:       identitydomain.AuthTypeWebapp,
	}
	keys, err = f.svc.List(authctx.WithClaim(context.Background(), otherClaim))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAPIKey_RotateGracePeriod(t *testing.T) {
	f := newAPIKeyFixture(t)
	first, err := f.svc.Create(f.ctx, apikeydomain.CreateRequest{Name: "ci", Livemode: true})
	require.NoError(t, err)

	second, err := f.svc.Rotate(f.ctx, first.KeyID)
	require.NoError(t, err)
	assert.NotEqual(t, first.KeyID, second.KeyID)
	assert.NotEqual(t, first.APIKey, second.APIKey)

	// The old key keeps working through the grace window.
	_, err = f.verifier.Verify(context.Background(), first.APIKey)
	assert.NoError(t, err)
	_, err = f.verifier.Verify(context.Background(), second.APIKey)
	assert.NoError(t, err)

	var old apikeydomain.APIKey
	require.NoError(t, f.db.Where("key_id = ?", first.KeyID).First(&old).Error)
	require.NotNil(t, old.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(apiKeyRotationGracePeriod), *old.ExpiresAt, time.Minute)
}

func TestAPIKey_RotateUnknownKey(t *testing.T) {
	f := newAPIKeyFixture(t)

	_, err := f.svc.Rotate(f.ctx, "key_NOPE")
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}

func TestAPIKey_RevokeStopsVerification(t *testing.T) {
	f := newAPIKeyFixture(t)
	secret, err := f.svc.Create(f.ctx, apikeydomain.CreateRequest{Name: "ci", Livemode: true})
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(f.ctx, secret.KeyID))

	_, err = f.verifier.Verify(context.Background(), secret.APIKey)
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestVerifier_RejectsGarbage(t *testing.T) {
	f := newAPIKeyFixture(t)

	_, err := f.verifier.Verify(context.Background(), "")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)

	_, err = f.verifier.Verify(context.Background(), "not-a-key")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)

	_, err = f.verifier.Verify(context.Background(), apikeydomain.LivePrefix+"deadbeef")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}
