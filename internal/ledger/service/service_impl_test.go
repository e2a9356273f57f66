package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	ledgerdomain "github.com/flowglad/flowglad/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newLedgerFixture(t *testing.T) (ledgerdomain.Service, *gorm.DB, snowflake.ID) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.LedgerEntry{}, &ledgerdomain.LedgerEntryLine{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{Log: zap.NewNop(), GenID: node})
	return svc, db, node.Generate()
}

func grantCommand(orgID snowflake.ID) ledgerdomain.Command {
	return ledgerdomain.Command{
		OrgID:      orgID,
		SourceType: ledgerdomain.SourceTypeCreditGrant,
		SourceID:   7,
		Currency:   "usd",
		Livemode:   true,
		OccurredAt: time.Now().UTC(),
		Lines: []ledgerdomain.CommandLine{
			{AccountCode: ledgerdomain.AccountCodeCreditBalance, Direction: ledgerdomain.EntryDirectionDebit, Amount: 500},
			{AccountCode: ledgerdomain.AccountCodeRevenueUsage, Direction: ledgerdomain.EntryDirectionCredit, Amount: 500},
		},
	}
}

func TestApplyTx_PostsBalancedEntry(t *testing.T) {
	svc, db, orgID := newLedgerFixture(t)

	require.NoError(t, svc.ApplyTx(context.Background(), db, grantCommand(orgID)))

	var entry ledgerdomain.LedgerEntry
	require.NoError(t, db.First(&entry).Error)
	assert.Equal(t, orgID, entry.OrgID)
	assert.Equal(t, ledgerdomain.SourceTypeCreditGrant, entry.SourceType)
	assert.Equal(t, "usd", entry.Currency)
	assert.True(t, entry.Livemode)

	var lines []ledgerdomain.LedgerEntryLine
	require.NoError(t, db.Where("ledger_entry_id = ?", entry.ID).Find(&lines).Error)
	require.Len(t, lines, 2)

	var debits, credits int64
	for _, line := range lines {
		if line.Direction == ledgerdomain.EntryDirectionDebit {
			debits += line.Amount
		} else {
			credits += line.Amount
		}
	}
	assert.Equal(t, debits, credits)
}

func TestApplyTx_NormalizesDirectionCase(t *testing.T) {
	svc, db, orgID := newLedgerFixture(t)
	cmd := grantCommand(orgID)
	cmd.Lines[0].Direction = "DEBIT"
	cmd.Lines[1].Direction = " Credit "

	require.NoError(t, svc.ApplyTx(context.Background(), db, cmd))

	var lines []ledgerdomain.LedgerEntryLine
	require.NoError(t, db.Find(&lines).Error)
	require.Len(t, lines, 2)
	assert.Equal(t, ledgerdomain.EntryDirectionDebit, lines[0].Direction)
	assert.Equal(t, ledgerdomain.EntryDirectionCredit, lines[1].Direction)
}

func TestApplyTx_RejectsUnbalancedEntry(t *testing.T) {
	svc, db, orgID := newLedgerFixture(t)
	cmd := grantCommand(orgID)
	cmd.Lines[1].Amount = 400

	err := svc.ApplyTx(context.Background(), db, cmd)
	assert.ErrorIs(t, err, ledgerdomain.ErrUnbalancedEntry)

	var count int64
	require.NoError(t, db.Model(&ledgerdomain.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestApplyTx_RequiresTwoLines(t *testing.T) {
	svc, db, orgID := newLedgerFixture(t)
	cmd := grantCommand(orgID)
	cmd.Lines = cmd.Lines[:1]

	err := svc.ApplyTx(context.Background(), db, cmd)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidEntryLines)
}

func TestApplyTx_RejectsNegativeAmount(t *testing.T) {
	svc, db, orgID := newLedgerFixture(t)
	cmd := grantCommand(orgID)
	cmd.Lines[0].Amount = -500

	err := svc.ApplyTx(context.Background(), db, cmd)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidLineAmount)
}

func TestApplyTx_RejectsUnknownDirection(t *testing.T) {
	svc, db, orgID := newLedgerFixture(t)
	cmd := grantCommand(orgID)
	cmd.Lines[0].Direction = "sideways"

	err := svc.ApplyTx(context.Background(), db, cmd)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidLineDirection)
}

func TestApplyTx_ValidatesHeader(t *testing.T) {
	svc, db, orgID := newLedgerFixture(t)

	tests := []struct {
		name    string
		mutate  func(*ledgerdomain.Command)
		wantErr error
	}{
		{"missing org", func(c *ledgerdomain.Command) { c.OrgID = 0 }, ledgerdomain.ErrInvalidOrganization},
		{"missing source type", func(c *ledgerdomain.Command) { c.SourceType = " " }, ledgerdomain.ErrInvalidSourceType},
		{"missing source id", func(c *ledgerdomain.Command) { c.SourceID = 0 }, ledgerdomain.ErrInvalidSourceID},
		{"missing currency", func(c *ledgerdomain.Command) { c.Currency = "" }, ledgerdomain.ErrInvalidCurrency},
		{"missing occurred at", func(c *ledgerdomain.Command) { c.OccurredAt = time.Time{} }, ledgerdomain.ErrInvalidOccurredAt},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := grantCommand(orgID)
			tc.mutate(&cmd)
			assert.ErrorIs(t, svc.ApplyTx(context.Background(), db, cmd), tc.wantErr)
		})
	}
}
