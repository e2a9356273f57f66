package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EntryDirection represents debit or credit postings.
type EntryDirection string

const (
	EntryDirectionDebit  EntryDirection = "debit"
	EntryDirectionCredit EntryDirection = "credit"
)

type SourceType string

const (
	SourceTypeSubscriptionCharge SourceType = "subscription_charge"
	SourceTypeUsageCharge        SourceType = "usage_charge"
	SourceTypeCreditGrant        SourceType = "credit_grant"
	SourceTypeCreditUse          SourceType = "credit_use"
	SourceTypeAdjustment         SourceType = "adjustment"
)

type AccountCode string

const (
	AccountCodeAccountsReceivable  AccountCode = "accounts_receivable"
	AccountCodeRevenueSubscription AccountCode = "revenue_subscription"
	AccountCodeRevenueUsage        AccountCode = "revenue_usage"
	AccountCodeCreditBalance       AccountCode = "credit_balance"
	AccountCodeAdjustment          AccountCode = "adjustment"
)

// LedgerAccount defines a chart-of-accounts entry.
type LedgerAccount struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ledger_accounts_org_code,priority:1"`
	Code      AccountCode  `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_org_code,priority:2"`
	Name      string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerEntry captures the immutable header for a financial event.
type LedgerEntry struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;index"`
	SourceType SourceType   `gorm:"type:text;not null;index"`
	SourceID   snowflake.ID `gorm:"not null;index"`
	Currency   string       `gorm:"type:text;not null"`
	Livemode   bool         `gorm:"not null;default:true"`
	OccurredAt time.Time    `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line.
type LedgerEntryLine struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID   `gorm:"not null;index"`
	AccountCode   AccountCode    `gorm:"type:text;not null"`
	Direction     EntryDirection `gorm:"type:text;not null"`
	Amount        int64          `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }

// CommandLine is one posting inside a queued ledger command.
type CommandLine struct {
	AccountCode AccountCode
	Direction   EntryDirection
	Amount      int64
}

// Command is a ledger posting queued on the effects accumulator. It is
// applied inside the same transaction as the business writes that caused it.
type Command struct {
	OrgID      snowflake.ID
	SourceType SourceType
	SourceID   snowflake.ID
	Currency   string
	Livemode   bool
	OccurredAt time.Time
	Lines      []CommandLine
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidSourceType    = errors.New("invalid_source_type")
	ErrInvalidSourceID      = errors.New("invalid_source_id")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidOccurredAt    = errors.New("invalid_occurred_at")
	ErrInvalidEntryLines    = errors.New("invalid_entry_lines")
	ErrInvalidLineDirection = errors.New("invalid_line_direction")
	ErrInvalidLineAmount    = errors.New("invalid_line_amount")
	ErrUnbalancedEntry      = errors.New("unbalanced_entry")
)

type Service interface {
	// ApplyTx validates and posts the command using the caller's
	// transaction handle.
	ApplyTx(ctx context.Context, tx *gorm.DB, cmd Command) error
}
