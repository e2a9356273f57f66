package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization is the tenant root. Every row the RLS policies guard carries
// an org_id referencing this table.
type Organization struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// User is a dashboard (merchant-side) account.
type User struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	ExternalAuthID *string      `gorm:"column:external_auth_id;type:text;uniqueIndex"`
	Email          string       `gorm:"type:text;not null;uniqueIndex"`
	Name           string       `gorm:"type:text;not null"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Membership links a user to an organization. At most one membership per
// user is focused at a time; the partial unique index in the schema enforces
// it, the identity resolver relies on it.
type Membership struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	UserID        snowflake.ID `gorm:"column:user_id;not null;index;uniqueIndex:ux_memberships_user_org,priority:1"`
	OrgID         snowflake.ID `gorm:"column:org_id;not null;index;uniqueIndex:ux_memberships_user_org,priority:2"`
	Focused       bool         `gorm:"not null;default:false"`
	Livemode      bool         `gorm:"not null;default:true"`
	DeactivatedAt *time.Time   `gorm:"column:deactivated_at"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }

func (m *Membership) Active() bool { return m != nil && m.DeactivatedAt == nil }
