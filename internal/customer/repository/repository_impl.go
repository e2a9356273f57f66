package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, customerID).
		First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repo) FindForPortal(ctx context.Context, db *gorm.DB, externalAuthID string, orgID snowflake.ID, customerID *snowflake.ID) (*domain.Customer, error) {
	trimmed := strings.TrimSpace(externalAuthID)
	if trimmed == "" {
		return nil, nil
	}

	// Only livemode customers are reachable through the portal path.
	stmt := db.WithContext(ctx).
		Where("org_id = ? AND external_auth_id = ? AND livemode = ? AND archived = ?", orgID, trimmed, true, false)
	if customerID != nil {
		stmt = stmt.Where("id = ?", *customerID)
	}

	var customer domain.Customer
	err := stmt.Limit(1).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}
