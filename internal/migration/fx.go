package migration

import (
	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	"github.com/flowglad/flowglad/internal/config"
	customerdomain "github.com/flowglad/flowglad/internal/customer/domain"
	"github.com/flowglad/flowglad/internal/events"
	ledgerdomain "github.com/flowglad/flowglad/internal/ledger/domain"
	organizationdomain "github.com/flowglad/flowglad/internal/organization/domain"
	pricingdomain "github.com/flowglad/flowglad/internal/pricing/domain"
	"github.com/flowglad/flowglad/internal/seed"
	sessiondomain "github.com/flowglad/flowglad/internal/session/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else if err := autoMigrate(conn); err != nil {
			return err
		}
		return seed.EnsureMainOrg(conn)
	}),
)

// autoMigrate builds the schema directly on dialects the SQL migrations do
// not target (local sqlite). RLS roles and policies are postgres-only, so
// only the tables are created here.
func autoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&organizationdomain.Organization{},
		&organizationdomain.User{},
		&organizationdomain.Membership{},
		&customerdomain.Customer{},
		&sessiondomain.SessionRecord{},
		&sessiondomain.CustomerSessionRecord{},
		&apikeydomain.APIKey{},
		&pricingdomain.PricingModel{},
		&pricingdomain.Product{},
		&pricingdomain.Price{},
		&pricingdomain.UsageMeter{},
		&pricingdomain.Resource{},
		&pricingdomain.Feature{},
		&pricingdomain.ProductFeature{},
		&events.OutboxEvent{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
	)
}
