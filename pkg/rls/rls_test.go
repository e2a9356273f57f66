package rls

import (
	"testing"

	"github.com/glebarez/sqlite"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestForDialect_SqliteGetsNoop(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:rls_dialect?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	binder := ForDialect(db)
	_, isNoop := binder.(*NoopBinder)
	assert.True(t, isNoop)
}

func TestForDialect_NilDB(t *testing.T) {
	binder := ForDialect(nil)
	_, isNoop := binder.(*NoopBinder)
	assert.True(t, isNoop)
}

func TestNoopBinder_AllowsAnySequence(t *testing.T) {
	binder := NewNoopBinder()
	assert.NoError(t, binder.Bind(nil, SecurityContext{Claim: identitydomain.Claim{Role: identitydomain.RoleMerchant}}))
	assert.NoError(t, binder.BindAdmin(nil, true))
	assert.NoError(t, binder.Release(nil))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"merchant"`, quoteIdent("merchant"))
	assert.Equal(t, `"we""ird"`, quoteIdent(`we"ird`))
}
