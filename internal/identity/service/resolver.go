package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	customerdomain "github.com/flowglad/flowglad/internal/customer/domain"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	organizationdomain "github.com/flowglad/flowglad/internal/organization/domain"
	sessiondomain "github.com/flowglad/flowglad/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const claimTTL = time.Hour

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Verifier     apikeydomain.Verifier
	OrgRepo      organizationdomain.Repository
	CustomerRepo customerdomain.Repository
}

// Service resolves request credentials to an identity and claim. Pure
// resolution: the verifier call is its only outbound I/O.
type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	verifier     apikeydomain.Verifier
	orgRepo      organizationdomain.Repository
	customerRepo customerdomain.Repository
}

func New(p Params) identitydomain.Resolver {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("identity.resolver"),
		verifier:     p.Verifier,
		orgRepo:      p.OrgRepo,
		customerRepo: p.CustomerRepo,
	}
}

func (s *Service) Resolve(ctx context.Context, input identitydomain.ResolveInput) (*identitydomain.Resolution, error) {
	if strings.TrimSpace(input.APIKey) != "" {
		return s.resolveAPIKey(ctx, input.APIKey)
	}

	if input.AuthScope == identitydomain.AuthScopeCustomer {
		return s.resolveCustomerSession(ctx, input.CustomerSession, input.CustomerID)
	}

	if input.Session != nil {
		return s.resolveMerchantSession(ctx, input.Session)
	}

	// Customer session as a fallback of last resort.
	if input.CustomerSession != nil {
		return s.resolveCustomerSession(ctx, input.CustomerSession, input.CustomerID)
	}

	return nil, identitydomain.ErrNoIdentity
}

func (s *Service) resolveAPIKey(ctx context.Context, raw string) (*identitydomain.Resolution, error) {
	verified, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	if verified.Type != apikeydomain.KeyTypeSecret {
		return nil, apikeydomain.ErrInvalidKey
	}
	// Every secret key is scoped to one pricing model; a key without one
	// predates the migration and must not authenticate.
	if strings.TrimSpace(verified.PricingModelID) == "" {
		return nil, apikeydomain.ErrUnmigratedKey
	}

	orgID, err := snowflake.ParseString(verified.OrganizationID)
	if err != nil {
		return nil, apikeydomain.ErrInvalidKey
	}

	// The acting user must still hold a membership in the key's org. Focus
	// state is deliberately ignored: keys are pinned to their org.
	membership, err := s.orgRepo.FindMembershipForOrg(ctx, s.db, verified.UserID, orgID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, identitydomain.ErrMembershipNotFound
	}

	user, err := s.orgRepo.FindUser(ctx, s.db, membership.UserID)
	if err != nil {
		return nil, err
	}
	email := ""
	if user != nil {
		email = user.Email
	}

	now := time.Now().UTC()
	claim := identitydomain.Claim{
		UserID:         membership.UserID.String(),
		OrganizationID: orgID.String(),
		Email:          email,
		Role:           identitydomain.RoleMerchant,
		AuthType:       identitydomain.AuthTypeAPIKey,
		Livemode:       verified.Livemode,
		PricingModelID: verified.PricingModelID,
		IssuedAt:       now.Unix(),
		ExpiresAt:      now.Add(claimTTL).Unix(),
	}
	return &identitydomain.Resolution{
		UserID:   claim.UserID,
		Livemode: verified.Livemode,
		Claim:    claim,
	}, nil
}

func (s *Service) resolveMerchantSession(ctx context.Context, session *sessiondomain.Session) (*identitydomain.Resolution, error) {
	userID, err := snowflake.ParseString(strings.TrimSpace(session.User.ID))
	if err != nil {
		return nil, identitydomain.ErrNoIdentity
	}

	membership, err := s.orgRepo.FindFocusedMembership(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	claim := identitydomain.Claim{
		UserID:    session.User.ID,
		Email:     session.User.Email,
		Role:      identitydomain.RoleMerchant,
		AuthType:  identitydomain.AuthTypeWebapp,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(claimTTL).Unix(),
	}

	// No focused membership means the caller sees "no organization", never
	// an arbitrary pick among their memberships.
	livemode := false
	if membership != nil {
		claim.OrganizationID = membership.OrgID.String()
		claim.Livemode = membership.Livemode
		livemode = membership.Livemode
	}

	return &identitydomain.Resolution{
		UserID:   session.User.ID,
		Livemode: livemode,
		Claim:    claim,
	}, nil
}

func (s *Service) resolveCustomerSession(ctx context.Context, session *sessiondomain.CustomerSession, customerID string) (*identitydomain.Resolution, error) {
	if session == nil {
		return nil, identitydomain.ErrNoIdentity
	}
	if strings.TrimSpace(session.ContextOrganizationID) == "" {
		return nil, identitydomain.ErrMissingContextOrg
	}

	orgID, err := snowflake.ParseString(strings.TrimSpace(session.ContextOrganizationID))
	if err != nil {
		return nil, identitydomain.ErrMissingContextOrg
	}

	var pinned *snowflake.ID
	if trimmed := strings.TrimSpace(customerID); trimmed != "" {
		parsed, err := snowflake.ParseString(trimmed)
		if err != nil {
			return nil, identitydomain.ErrCustomerNotFound
		}
		pinned = &parsed
	}

	customer, err := s.customerRepo.FindForPortal(ctx, s.db, session.User.ID, orgID, pinned)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, identitydomain.ErrCustomerNotFound
	}

	now := time.Now().UTC()
	claim := identitydomain.Claim{
		UserID:         customer.ID.String(),
		OrganizationID: orgID.String(),
		Email:          customer.Email,
		Role:           identitydomain.RoleCustomer,
		AuthType:       identitydomain.AuthTypeWebapp,
		Livemode:       customer.Livemode,
		IssuedAt:       now.Unix(),
		ExpiresAt:      now.Add(claimTTL).Unix(),
	}
	if customer.PricingModelID != nil {
		claim.PricingModelID = customer.PricingModelID.String()
	}

	return &identitydomain.Resolution{
		UserID:   claim.UserID,
		Livemode: customer.Livemode,
		Claim:    claim,
	}, nil
}
