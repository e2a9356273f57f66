package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPricingModel = "pricing_model"
	ObjectProduct      = "product"
	ObjectUsageMeter   = "usage_meter"
	ObjectFeature      = "feature"
	ObjectAPIKey       = "api_key"
	ObjectCustomer     = "customer"
	ObjectLedger       = "ledger"
	ObjectPortal       = "portal"
)

const (
	ActionPricingModelView   = "pricing_model.view"
	ActionPricingModelCreate = "pricing_model.create"
	ActionPricingModelUpdate = "pricing_model.update"

	ActionProductView = "product.view"

	ActionUsageMeterView = "usage_meter.view"

	ActionFeatureView = "feature.view"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRotate = "api_key.rotate"
	ActionAPIKeyRevoke = "api_key.revoke"

	ActionCustomerView   = "customer.view"
	ActionCustomerCreate = "customer.create"
	ActionCustomerUpdate = "customer.update"

	ActionLedgerView = "ledger.view"

	ActionPortalView = "portal.view"
)

const (
	RoleMerchant = "role:merchant"
	RoleCustomer = "role:customer"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor, orgID, object, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", actor)
	domain := fmt.Sprintf("org:%s", orgID)

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("actor", actor),
			zap.String("org_id", orgID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// GrantRole links an actor to a role within one organization's domain.
// Identity resolution calls it when a membership or customer record is
// first seen, so the grouping table stays in step with the database.
func (s *ServiceImpl) GrantRole(ctx context.Context, actor, orgID, role string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	if role != RoleMerchant && role != RoleCustomer {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", actor)
	domain := fmt.Sprintf("org:%s", orgID)
	has, err := s.enforcer.HasGroupingPolicy(subject, role, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{RoleMerchant, "*", ObjectPricingModel, ActionPricingModelView},
		{RoleMerchant, "*", ObjectPricingModel, ActionPricingModelCreate},
		{RoleMerchant, "*", ObjectPricingModel, ActionPricingModelUpdate},
		{RoleMerchant, "*", ObjectProduct, ActionProductView},
		{RoleMerchant, "*", ObjectUsageMeter, ActionUsageMeterView},
		{RoleMerchant, "*", ObjectFeature, ActionFeatureView},
		{RoleMerchant, "*", ObjectAPIKey, ActionAPIKeyView},
		{RoleMerchant, "*", ObjectAPIKey, ActionAPIKeyCreate},
		{RoleMerchant, "*", ObjectAPIKey, ActionAPIKeyRotate},
		{RoleMerchant, "*", ObjectAPIKey, ActionAPIKeyRevoke},
		{RoleMerchant, "*", ObjectCustomer, ActionCustomerView},
		{RoleMerchant, "*", ObjectCustomer, ActionCustomerCreate},
		{RoleMerchant, "*", ObjectCustomer, ActionCustomerUpdate},
		{RoleMerchant, "*", ObjectLedger, ActionLedgerView},

		{RoleCustomer, "*", ObjectPortal, ActionPortalView},
		{RoleCustomer, "*", ObjectProduct, ActionProductView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}

var Module = fx.Module("authorization",
	fx.Provide(
		NewEnforcer,
		NewService,
	),
)
