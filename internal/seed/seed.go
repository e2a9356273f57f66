package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/flowglad/flowglad/internal/ledger/domain"
	organizationdomain "github.com/flowglad/flowglad/internal/organization/domain"
	pricingdomain "github.com/flowglad/flowglad/internal/pricing/domain"
	"gorm.io/gorm"
)

const (
	defaultOrgName    = "Main"
	defaultOrgSlug    = "main"
	defaultAdminEmail = "admin@flowglad.local"
	defaultAdminName  = "Flowglad Admin"

	defaultModelName   = "Default"
	defaultProductSlug = "free"
	defaultPriceSlug   = "free-monthly"
)

// EnsureMainOrg seeds the default organization, an admin user with a
// focused membership, a default pricing model with its free plan, and the
// ledger chart of accounts. Every step is idempotent, so startup can call
// it unconditionally.
func EnsureMainOrg(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureOrgTx(ctx, tx, node)
		if err != nil {
			return err
		}
		if err := ensureAdminTx(ctx, tx, node, org.ID); err != nil {
			return err
		}
		if err := ensureDefaultModelTx(ctx, tx, node, org.ID); err != nil {
			return err
		}
		return ensureLedgerAccountsTx(ctx, tx, node, org.ID)
	})
}

func ensureOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (organizationdomain.Organization, error) {
	var org organizationdomain.Organization
	err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return org, err
	}

	now := time.Now().UTC()
	org = organizationdomain.Organization{
		ID:        node.Generate(),
		Name:      defaultOrgName,
		Slug:      defaultOrgSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return org, tx.WithContext(ctx).Create(&org).Error
}

func ensureAdminTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID) error {
	var user organizationdomain.User
	err := tx.WithContext(ctx).Where("email = ?", strings.ToLower(defaultAdminEmail)).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := time.Now().UTC()
		user = organizationdomain.User{
			ID:        node.Generate(),
			Email:     strings.ToLower(defaultAdminEmail),
			Name:      defaultAdminName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
	}

	var member organizationdomain.Membership
	err = tx.WithContext(ctx).Where("org_id = ? AND user_id = ?", orgID, user.ID).First(&member).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	member = organizationdomain.Membership{
		ID:        node.Generate(),
		UserID:    user.ID,
		OrgID:     orgID,
		Focused:   true,
		Livemode:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.WithContext(ctx).Create(&member).Error
}

func ensureDefaultModelTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID) error {
	var model pricingdomain.PricingModel
	err := tx.WithContext(ctx).
		Where("org_id = ? AND is_default = ? AND livemode = ?", orgID, true, true).
		First(&model).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	model = pricingdomain.PricingModel{
		ID:        node.Generate(),
		OrgID:     orgID,
		Name:      defaultModelName,
		IsDefault: true,
		Livemode:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}

	product := pricingdomain.Product{
		ID:             node.Generate(),
		OrgID:          orgID,
		PricingModelID: model.ID,
		Slug:           defaultProductSlug,
		Name:           "Free",
		Default:        true,
		Active:         true,
		Livemode:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.WithContext(ctx).Create(&product).Error; err != nil {
		return err
	}

	price := pricingdomain.Price{
		ID:             node.Generate(),
		OrgID:          orgID,
		PricingModelID: model.ID,
		ProductID:      &product.ID,
		Slug:           defaultPriceSlug,
		Type:           pricingdomain.PriceTypeSubscription,
		UnitAmount:     0,
		Currency:       "usd",
		IntervalUnit:   pricingdomain.IntervalMonth,
		IntervalCount:  1,
		IsDefault:      true,
		Active:         true,
		Livemode:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return tx.WithContext(ctx).Create(&price).Error
}

func ensureLedgerAccountsTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID) error {
	accounts := []struct {
		code ledgerdomain.AccountCode
		name string
	}{
		{ledgerdomain.AccountCodeAccountsReceivable, "Accounts Receivable"},
		{ledgerdomain.AccountCodeRevenueSubscription, "Subscription Revenue"},
		{ledgerdomain.AccountCodeRevenueUsage, "Usage Revenue"},
		{ledgerdomain.AccountCodeCreditBalance, "Customer Credit Balance"},
		{ledgerdomain.AccountCodeAdjustment, "Adjustments"},
	}

	for _, acc := range accounts {
		var existing ledgerdomain.LedgerAccount
		err := tx.WithContext(ctx).Where("org_id = ? AND code = ?", orgID, acc.code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		row := ledgerdomain.LedgerAccount{
			ID:        node.Generate(),
			OrgID:     orgID,
			Code:      acc.code,
			Name:      acc.name,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
