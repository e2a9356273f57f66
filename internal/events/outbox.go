package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventType string

const (
	EventPricingModelUpdated EventType = "pricing_model.updated"
	EventPricingModelCreated EventType = "pricing_model.created"
	EventAPIKeyCreated       EventType = "api_key.created"
	EventLedgerEntryCreated  EventType = "ledger.entry_created"
)

// Event is a domain event awaiting dispatch.
type Event struct {
	OrgID     snowflake.ID
	Type      EventType
	Payload   map[string]any
	DedupeKey string
}

// OutboxEvent is the persisted row. Inserted inside the business
// transaction so the event is atomic with the writes it describes.
type OutboxEvent struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	OrgID        snowflake.ID      `gorm:"column:org_id;not null;index"`
	Type         string            `gorm:"type:text;not null"`
	Payload      datatypes.JSONMap `gorm:"type:jsonb"`
	DedupeKey    *string           `gorm:"column:dedupe_key;type:text;uniqueIndex"`
	DispatchedAt *time.Time        `gorm:"column:dispatched_at;index"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "outbox_events" }

type OutboxParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
}

// Outbox writes events transactionally and marks them dispatched later.
type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{log: p.Log.Named("events.outbox"), genID: p.GenID}
}

// PublishTx inserts the event using the caller's transaction handle. A
// duplicate dedupe key is silently dropped so retried transactions stay
// idempotent.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	row := OutboxEvent{
		ID:        o.genID.Generate(),
		OrgID:     event.OrgID,
		Type:      string(event.Type),
		Payload:   datatypes.JSONMap(event.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if event.DedupeKey != "" {
		key := event.DedupeKey
		row.DedupeKey = &key
	}

	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			o.log.Debug("duplicate outbox event dropped", zap.String("dedupe_key", event.DedupeKey))
			return nil
		}
		return err
	}
	return nil
}

// Pending returns undelivered events, oldest first.
func (o *Outbox) Pending(ctx context.Context, tx *gorm.DB, limit int) ([]OutboxEvent, error) {
	var rows []OutboxEvent
	err := tx.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkDispatched stamps the rows as delivered.
func (o *Outbox) MarkDispatched(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("id IN ?", ids).
		Update("dispatched_at", at).Error
}
