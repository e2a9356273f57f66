package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/flowglad/flowglad/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.APIKey, error) {
	var items []domain.APIKey
	err := db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *domain.APIKey) error {
	return db.WithContext(ctx).Create(key).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, key *domain.APIKey) error {
	return db.WithContext(ctx).Save(key).Error
}

func (r *repo) FindByKeyID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, keyID string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.WithContext(ctx).
		Where("org_id = ? AND key_id = ?", orgID, keyID).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.APIKey, error) {
	var key domain.APIKey
	err := db.WithContext(ctx).
		Where("key_hash = ?", hash).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at int64) error {
	return db.WithContext(ctx).
		Model(&domain.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", time.Unix(at, 0).UTC()).Error
}
