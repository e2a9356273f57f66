package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrMembershipNotFound  = errors.New("membership_not_found")
)

type Repository interface {
	FindOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Organization, error)
	FindUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*User, error)
	// FindFocusedMembership returns the user's focused, non-deactivated
	// membership, or nil when the user has none.
	FindFocusedMembership(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Membership, error)
	// FindMembershipForOrg matches either the membership's user ID or the
	// user's legacy external auth ID, scoped to one organization.
	FindMembershipForOrg(ctx context.Context, db *gorm.DB, userKey string, orgID snowflake.ID) (*Membership, error)
}
