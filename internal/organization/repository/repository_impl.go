package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/internal/organization/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindOrganization(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).Where("id = ?", orgID).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (r *repo) FindFocusedMembership(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Membership, error) {
	var membership domain.Membership
	err := db.WithContext(ctx).
		Where("user_id = ? AND focused = ? AND deactivated_at IS NULL", userID, true).
		Limit(1).
		First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &membership, nil
}

func (r *repo) FindMembershipForOrg(ctx context.Context, db *gorm.DB, userKey string, orgID snowflake.ID) (*domain.Membership, error) {
	trimmed := strings.TrimSpace(userKey)
	if trimmed == "" {
		return nil, nil
	}

	var membership domain.Membership
	err := db.WithContext(ctx).
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.org_id = ? AND memberships.deactivated_at IS NULL", orgID).
		Where("users.id = ? OR users.external_auth_id = ?", parseID(trimmed), trimmed).
		Limit(1).
		First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &membership, nil
}

func parseID(value string) snowflake.ID {
	parsed, err := snowflake.ParseString(value)
	if err != nil {
		return 0
	}
	return parsed
}
