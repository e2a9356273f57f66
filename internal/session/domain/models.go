package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SessionRecord is a persisted dashboard session.
type SessionRecord struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"column:user_id;not null;index"`
	Token     string       `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt time.Time    `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SessionRecord) TableName() string { return "sessions" }

// CustomerSessionRecord is a persisted billing-portal session. The
// organization the portal was opened against travels with the session.
type CustomerSessionRecord struct {
	ID         snowflake.ID  `gorm:"primaryKey"`
	UserKey    string        `gorm:"column:user_key;type:text;not null;index"`
	Email      string        `gorm:"type:text;not null"`
	ContextOrg *snowflake.ID `gorm:"column:context_org_id"`
	Token      string        `gorm:"type:text;not null;uniqueIndex"`
	ExpiresAt  time.Time     `gorm:"not null"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CustomerSessionRecord) TableName() string { return "customer_sessions" }

// SessionUser is the resolver-facing view of the signed-in user.
type SessionUser struct {
	ID    string
	Email string
}

// Session is what the identity resolver consumes for merchant sign-ins.
type Session struct {
	User SessionUser
}

// CustomerSession is what the identity resolver consumes for portal sign-ins.
type CustomerSession struct {
	User                  SessionUser
	ContextOrganizationID string
}

// Store looks sessions up by their opaque cookie token.
type Store interface {
	GetSession(ctx context.Context, token string) (*Session, error)
	GetCustomerSession(ctx context.Context, token string) (*CustomerSession, error)
}
