package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// KeyType discriminates claim-construction paths. Only secret keys are
// issued today; legacy publishable variants were retired.
type KeyType string

const (
	KeyTypeSecret KeyType = "secret"
)

// APIKey stores hashed API credentials scoped to an organization.
type APIKey struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	OrgID           snowflake.ID   `gorm:"column:org_id;not null;uniqueIndex:ux_api_keys_org_key_id,priority:1"`
	KeyID           string         `gorm:"column:key_id;type:text;not null;uniqueIndex:ux_api_keys_org_key_id,priority:2"`
	Name            string         `gorm:"type:text;not null"`
	Type            KeyType        `gorm:"column:key_type;type:text;not null;default:secret"`
	Scopes          pq.StringArray `gorm:"type:text[];not null"`
	KeyHash         string         `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	CreatedByUserID snowflake.ID   `gorm:"column:created_by_user_id;not null"`
	PricingModelID  *snowflake.ID  `gorm:"column:pricing_model_id"`
	Livemode        bool           `gorm:"not null;default:true"`
	IsActive        bool           `gorm:"column:is_active;not null;default:true"`
	VerificationID  *string        `gorm:"column:verification_id;type:text"`
	CreatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastUsedAt      *time.Time     `gorm:"column:last_used_at"`
	ExpiresAt       *time.Time     `gorm:"column:expires_at"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
