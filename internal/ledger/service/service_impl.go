package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/flowglad/flowglad/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) ledgerdomain.Service {
	return &Service{
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, cmd ledgerdomain.Command) error {
	if cmd.OrgID == 0 {
		return ledgerdomain.ErrInvalidOrganization
	}
	if strings.TrimSpace(string(cmd.SourceType)) == "" {
		return ledgerdomain.ErrInvalidSourceType
	}
	if cmd.SourceID == 0 {
		return ledgerdomain.ErrInvalidSourceID
	}
	if strings.TrimSpace(cmd.Currency) == "" {
		return ledgerdomain.ErrInvalidCurrency
	}
	if cmd.OccurredAt.IsZero() {
		return ledgerdomain.ErrInvalidOccurredAt
	}
	if len(cmd.Lines) < 2 {
		return ledgerdomain.ErrInvalidEntryLines
	}

	var debits, credits int64
	normalized := make([]ledgerdomain.CommandLine, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		direction, err := normalizeDirection(line.Direction)
		if err != nil {
			return err
		}
		if line.Amount < 0 {
			return ledgerdomain.ErrInvalidLineAmount
		}
		if direction == ledgerdomain.EntryDirectionDebit {
			debits += line.Amount
		} else {
			credits += line.Amount
		}
		line.Direction = direction
		normalized = append(normalized, line)
	}
	if debits != credits {
		return ledgerdomain.ErrUnbalancedEntry
	}

	now := time.Now().UTC()
	entry := ledgerdomain.LedgerEntry{
		ID:         s.genID.Generate(),
		OrgID:      cmd.OrgID,
		SourceType: cmd.SourceType,
		SourceID:   cmd.SourceID,
		Currency:   cmd.Currency,
		Livemode:   cmd.Livemode,
		OccurredAt: cmd.OccurredAt.UTC(),
		CreatedAt:  now,
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		return err
	}

	lines := make([]ledgerdomain.LedgerEntryLine, 0, len(normalized))
	for _, line := range normalized {
		lines = append(lines, ledgerdomain.LedgerEntryLine{
			ID:            s.genID.Generate(),
			LedgerEntryID: entry.ID,
			AccountCode:   line.AccountCode,
			Direction:     line.Direction,
			Amount:        line.Amount,
			CreatedAt:     now,
		})
	}
	return tx.WithContext(ctx).Create(&lines).Error
}

func normalizeDirection(direction ledgerdomain.EntryDirection) (ledgerdomain.EntryDirection, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(direction)))
	switch normalized {
	case string(ledgerdomain.EntryDirectionDebit):
		return ledgerdomain.EntryDirectionDebit, nil
	case string(ledgerdomain.EntryDirectionCredit):
		return ledgerdomain.EntryDirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
