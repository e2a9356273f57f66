package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Customer is a billed party inside one organization. Billing-portal sign-in
// matches the customer's external auth ID against the session user.
type Customer struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrgID          snowflake.ID  `gorm:"column:org_id;not null;index"`
	PricingModelID *snowflake.ID `gorm:"column:pricing_model_id;index"`
	ExternalAuthID *string       `gorm:"column:external_auth_id;type:text;index"`
	Email          string        `gorm:"type:text;not null"`
	Name           string        `gorm:"type:text;not null"`
	Livemode       bool          `gorm:"not null;default:true"`
	Archived       bool          `gorm:"not null;default:false"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

var (
	ErrCustomerNotFound = errors.New("customer_not_found")
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (*Customer, error)
	// FindForPortal resolves the billing-portal identity: external auth ID +
	// organization, livemode customers only, optionally pinned to one
	// customer ID.
	FindForPortal(ctx context.Context, db *gorm.DB, externalAuthID string, orgID snowflake.ID, customerID *snowflake.ID) (*Customer, error)
}
