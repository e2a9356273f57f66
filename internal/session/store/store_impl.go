package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/flowglad/flowglad/internal/cache"
	"github.com/flowglad/flowglad/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// sessionCacheTTL keeps token lookups off the database for a short window.
// Short enough that a revoked session dies within seconds.
const sessionCacheTTL = 30 * time.Second

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type store struct {
	db       *gorm.DB
	log      *zap.Logger
	sessions cache.Cache[string, domain.Session]
}

func Provide(p Params) domain.Store {
	return &store{
		db:       p.DB,
		log:      p.Log.Named("session.store"),
		sessions: cache.NewTTLCache[string, domain.Session](),
	}
}

func (s *store) GetSession(ctx context.Context, token string) (*domain.Session, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil
	}
	if cached, ok := s.sessions.Get(trimmed); ok {
		return &cached, nil
	}

	type row struct {
		UserID string
		Email  string
	}
	var found row
	err := s.db.WithContext(ctx).
		Table("sessions").
		Select("sessions.user_id AS user_id, users.email AS email").
		Joins("JOIN users ON users.id = sessions.user_id").
		Where("sessions.token = ? AND sessions.expires_at > ?", trimmed, time.Now().UTC()).
		Limit(1).
		Scan(&found).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if found.UserID == "" {
		return nil, nil
	}

	session := domain.Session{User: domain.SessionUser{ID: found.UserID, Email: found.Email}}
	s.sessions.Set(trimmed, session, sessionCacheTTL)
	return &session, nil
}

func (s *store) GetCustomerSession(ctx context.Context, token string) (*domain.CustomerSession, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil
	}

	var record domain.CustomerSessionRecord
	err := s.db.WithContext(ctx).
		Where("token = ? AND expires_at > ?", trimmed, time.Now().UTC()).
		Limit(1).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	session := &domain.CustomerSession{
		User: domain.SessionUser{ID: record.UserKey, Email: record.Email},
	}
	if record.ContextOrg != nil {
		session.ContextOrganizationID = record.ContextOrg.String()
	}
	return session, nil
}
