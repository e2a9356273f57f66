package transaction

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/flowglad/flowglad/internal/events"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	ledgerdomain "github.com/flowglad/flowglad/internal/ledger/domain"
	ledgerservice "github.com/flowglad/flowglad/internal/ledger/service"
	"github.com/flowglad/flowglad/pkg/authctx"
	"github.com/flowglad/flowglad/pkg/rls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type txProbe struct {
	ID    int64 `gorm:"primaryKey"`
	Value string
}

type fakeResolver struct {
	resolution *identitydomain.Resolution
	err        error
}

func (f *fakeResolver) Resolve(ctx context.Context, input identitydomain.ResolveInput) (*identitydomain.Resolution, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resolution, nil
}

type recordingBinder struct {
	calls   []string
	bindErr error
}

func (b *recordingBinder) Bind(tx *gorm.DB, sc rls.SecurityContext) error {
	b.calls = append(b.calls, "bind:"+string(sc.Claim.Role))
	return b.bindErr
}

func (b *recordingBinder) BindAdmin(tx *gorm.DB, livemode bool) error {
	b.calls = append(b.calls, fmt.Sprintf("bind_admin:%t", livemode))
	return b.bindErr
}

func (b *recordingBinder) Release(tx *gorm.DB) error {
	b.calls = append(b.calls, "release")
	return nil
}

type fakeLedger struct {
	commands []ledgerdomain.Command
	err      error
}

func (f *fakeLedger) ApplyTx(ctx context.Context, tx *gorm.DB, cmd ledgerdomain.Command) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, cmd)
	return nil
}

type fakeCache struct {
	keys []string
}

func (f *fakeCache) Invalidate(ctx context.Context, keys ...string) {
	f.keys = append(f.keys, keys...)
}

type runnerFixture struct {
	runner   *Runner
	db       *gorm.DB
	binder   *recordingBinder
	ledger   *fakeLedger
	cache    *fakeCache
	resolver *fakeResolver
	orgID    snowflake.ID
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&events.OutboxEvent{}, &txProbe{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	orgID := node.Generate()

	binder := &recordingBinder{}
	ledger := &fakeLedger{}
	cache := &fakeCache{}
	resolver := &fakeResolver{resolution: &identitydomain.Resolution{
		UserID:   "42",
		Livemode: true,
		Claim: identitydomain.Claim{
			UserID:         "42",
			OrganizationID: orgID.String(),
			Email:          "owner@example.com",
			Role:           identitydomain.RoleMerchant,
			AuthType:       identitydomain.AuthTypeWebapp,
			Livemode:       true,
		},
	}}

	runner := NewRunner(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Resolver: resolver,
		Outbox:   events.NewOutbox(events.OutboxParams{Log: zap.NewNop(), GenID: node}),
		Ledger:   ledger,
		Cache:    cache,
		Binder:   binder,
	})
	return &runnerFixture{runner: runner, db: db, binder: binder, ledger: ledger, cache: cache, resolver: resolver, orgID: orgID}
}

func TestAuthenticatedTransaction_CommitFlushesEffects(t *testing.T) {
	f := newRunnerFixture(t)

	err := f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		assert.Equal(t, "42", claim.UserID)

		// The claim travels on ctx too, for services that take no claim.
		fromCtx, ok := authctx.ClaimFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, claim, fromCtx)

		if err := tx.Create(&txProbe{ID: 1, Value: "written"}).Error; err != nil {
			return err
		}
		effects.EmitEvent(events.Event{OrgID: f.orgID, Type: events.EventPricingModelUpdated, Payload: map[string]any{"k": "v"}})
		effects.EnqueueLedgerCommand(ledgerdomain.Command{
			OrgID:      f.orgID,
			SourceType: ledgerdomain.SourceTypeCreditGrant,
			SourceID:   1,
			Currency:   "usd",
			Livemode:   true,
			OccurredAt: time.Now().UTC(),
		})
		effects.InvalidateCache("a", "b", "a")
		return nil
	})
	require.NoError(t, err)

	var probeCount, eventCount int64
	require.NoError(t, f.db.Model(&txProbe{}).Count(&probeCount).Error)
	require.NoError(t, f.db.Model(&events.OutboxEvent{}).Count(&eventCount).Error)
	assert.Equal(t, int64(1), probeCount)
	assert.Equal(t, int64(1), eventCount)

	require.Len(t, f.ledger.commands, 1)
	assert.Equal(t, f.orgID, f.ledger.commands[0].OrgID)

	// Duplicate cache keys collapse; purge runs once, after commit.
	assert.Equal(t, []string{"a", "b"}, f.cache.keys)
}

func TestAuthenticatedTransaction_RollbackDropsEverything(t *testing.T) {
	f := newRunnerFixture(t)
	boom := errors.New("boom")

	err := f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		if err := tx.Create(&txProbe{ID: 1, Value: "doomed"}).Error; err != nil {
			return err
		}
		effects.EmitEvent(events.Event{OrgID: f.orgID, Type: events.EventPricingModelUpdated})
		effects.InvalidateCache("pricing_model:1")
		return boom
	})
	require.ErrorIs(t, err, boom)

	var probeCount, eventCount int64
	require.NoError(t, f.db.Model(&txProbe{}).Count(&probeCount).Error)
	require.NoError(t, f.db.Model(&events.OutboxEvent{}).Count(&eventCount).Error)
	assert.Zero(t, probeCount)
	assert.Zero(t, eventCount)
	assert.Empty(t, f.cache.keys)
}

func TestAuthenticatedTransaction_LedgerFailureRollsBack(t *testing.T) {
	f := newRunnerFixture(t)
	f.ledger.err = errors.New("unbalanced")

	err := f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		if err := tx.Create(&txProbe{ID: 1}).Error; err != nil {
			return err
		}
		effects.EmitEvent(events.Event{OrgID: f.orgID, Type: events.EventPricingModelUpdated})
		effects.EnqueueLedgerCommand(ledgerdomain.Command{OrgID: f.orgID})
		return nil
	})
	require.Error(t, err)

	// The event flushed before the ledger command, but the shared
	// transaction rolled both back.
	var probeCount, eventCount int64
	require.NoError(t, f.db.Model(&txProbe{}).Count(&probeCount).Error)
	require.NoError(t, f.db.Model(&events.OutboxEvent{}).Count(&eventCount).Error)
	assert.Zero(t, probeCount)
	assert.Zero(t, eventCount)
	assert.Empty(t, f.cache.keys)
}

func TestAuthenticatedTransaction_ResolveFailureSkipsTransaction(t *testing.T) {
	f := newRunnerFixture(t)
	f.resolver.err = identitydomain.ErrNoIdentity

	called := false
	err := f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, identitydomain.ErrNoIdentity)
	assert.False(t, called)
	assert.Empty(t, f.binder.calls)
}

func TestAuthenticatedTransaction_BindReleaseOrdering(t *testing.T) {
	f := newRunnerFixture(t)

	err := f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		f.binder.calls = append(f.binder.calls, "fn")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"bind:merchant", "fn", "release"}, f.binder.calls)
}

func TestAuthenticatedTransaction_ReleasesAfterFnError(t *testing.T) {
	f := newRunnerFixture(t)

	_ = f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		f.binder.calls = append(f.binder.calls, "fn")
		return errors.New("boom")
	})

	assert.Equal(t, []string{"bind:merchant", "fn", "release"}, f.binder.calls)
}

func TestAuthenticatedTransaction_BindFailureAborts(t *testing.T) {
	f := newRunnerFixture(t)
	f.binder.bindErr = errors.New("role does not exist")

	called := false
	err := f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
}

func TestAdminTransaction_SyntheticClaim(t *testing.T) {
	f := newRunnerFixture(t)

	err := f.runner.AdminTransaction(context.Background(), func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		assert.Equal(t, AdminUserID, claim.UserID)
		assert.Equal(t, identitydomain.RoleMerchant, claim.Role)
		assert.True(t, claim.Livemode)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bind_admin:true", "release"}, f.binder.calls)
}

func TestAdminTransaction_LivemodeOverride(t *testing.T) {
	f := newRunnerFixture(t)

	err := f.runner.AdminTransaction(context.Background(), func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		assert.False(t, claim.Livemode)
		return nil
	}, WithLivemode(false))
	require.NoError(t, err)
	assert.Equal(t, []string{"bind_admin:false", "release"}, f.binder.calls)
}

func TestRecomputeWithContext_ReplaysSnapshot(t *testing.T) {
	f := newRunnerFixture(t)

	saved := identitydomain.TransactionContext{
		Type:           identitydomain.ContextTypeCustomer,
		UserID:         "77",
		OrganizationID: f.orgID.String(),
		Livemode:       true,
		CustomerID:     "77",
	}

	err := f.runner.RecomputeWithContext(context.Background(), saved, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		assert.Equal(t, "77", claim.UserID)
		assert.Equal(t, identitydomain.RoleCustomer, claim.Role)
		assert.Equal(t, identitydomain.AuthTypeWebapp, claim.AuthType)
		assert.Equal(t, f.orgID.String(), claim.OrganizationID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bind:customer", "release"}, f.binder.calls)
}

func TestOutbox_DedupeKeyDropsDuplicates(t *testing.T) {
	f := newRunnerFixture(t)

	for i := 0; i < 2; i++ {
		err := f.runner.AdminTransaction(context.Background(), func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
			effects.EmitEvent(events.Event{
				OrgID:     f.orgID,
				Type:      events.EventPricingModelCreated,
				DedupeKey: "pricing_model.created:1",
			})
			return nil
		})
		require.NoError(t, err)
	}

	var eventCount int64
	require.NoError(t, f.db.Model(&events.OutboxEvent{}).Count(&eventCount).Error)
	assert.Equal(t, int64(1), eventCount)
}

// newPostingRunnerFixture swaps the ledger fake for the real posting
// service so the flush path is proven against actual rows.
func newPostingRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	f := newRunnerFixture(t)
	require.NoError(t, f.db.AutoMigrate(&ledgerdomain.LedgerEntry{}, &ledgerdomain.LedgerEntryLine{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	f.runner = NewRunner(Params{
		DB:       f.db,
		Log:      zap.NewNop(),
		Resolver: f.resolver,
		Outbox:   events.NewOutbox(events.OutboxParams{Log: zap.NewNop(), GenID: node}),
		Ledger:   ledgerservice.New(ledgerservice.Params{Log: zap.NewNop(), GenID: node}),
		Cache:    f.cache,
		Binder:   f.binder,
	})
	return f
}

func balancedGrant(orgID snowflake.ID) ledgerdomain.Command {
	return ledgerdomain.Command{
		OrgID:      orgID,
		SourceType: ledgerdomain.SourceTypeCreditGrant,
		SourceID:   9,
		Currency:   "usd",
		Livemode:   true,
		OccurredAt: time.Now().UTC(),
		Lines: []ledgerdomain.CommandLine{
			{AccountCode: ledgerdomain.AccountCodeCreditBalance, Direction: ledgerdomain.EntryDirectionDebit, Amount: 1200},
			{AccountCode: ledgerdomain.AccountCodeRevenueUsage, Direction: ledgerdomain.EntryDirectionCredit, Amount: 1200},
		},
	}
}

func TestAuthenticatedTransaction_PostsLedgerEntryInTransaction(t *testing.T) {
	f := newPostingRunnerFixture(t)

	err := f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		if err := tx.Create(&txProbe{ID: 1, Value: "granted"}).Error; err != nil {
			return err
		}
		effects.EnqueueLedgerCommand(balancedGrant(f.orgID))
		return nil
	})
	require.NoError(t, err)

	var entry ledgerdomain.LedgerEntry
	require.NoError(t, f.db.First(&entry).Error)
	assert.Equal(t, f.orgID, entry.OrgID)
	assert.Equal(t, ledgerdomain.SourceTypeCreditGrant, entry.SourceType)

	var lineCount int64
	require.NoError(t, f.db.Model(&ledgerdomain.LedgerEntryLine{}).Where("ledger_entry_id = ?", entry.ID).Count(&lineCount).Error)
	assert.Equal(t, int64(2), lineCount)
}

func TestAuthenticatedTransaction_UnbalancedCommandRollsBackWrites(t *testing.T) {
	f := newPostingRunnerFixture(t)

	err := f.runner.AuthenticatedTransaction(context.Background(), identitydomain.ResolveInput{}, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *Effects) error {
		if err := tx.Create(&txProbe{ID: 1, Value: "doomed"}).Error; err != nil {
			return err
		}
		cmd := balancedGrant(f.orgID)
		cmd.Lines[1].Amount = 900
		effects.EnqueueLedgerCommand(cmd)
		return nil
	})
	require.ErrorIs(t, err, ledgerdomain.ErrUnbalancedEntry)

	var probeCount, entryCount int64
	require.NoError(t, f.db.Model(&txProbe{}).Count(&probeCount).Error)
	require.NoError(t, f.db.Model(&ledgerdomain.LedgerEntry{}).Count(&entryCount).Error)
	assert.Zero(t, probeCount)
	assert.Zero(t, entryCount)
}

func TestEffects_CacheKeyDedupe(t *testing.T) {
	effects := newEffects()
	effects.InvalidateCache("a", "", "b")
	effects.InvalidateCache("a", "c")

	assert.Equal(t, []string{"a", "b", "c"}, effects.cacheKeys)
	eventCount, ledgerCount, cacheCount := effects.counts()
	assert.Zero(t, eventCount)
	assert.Zero(t, ledgerCount)
	assert.Equal(t, 3, cacheCount)
}
