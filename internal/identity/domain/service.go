package domain

import (
	"context"
	"errors"

	sessiondomain "github.com/flowglad/flowglad/internal/session/domain"
)

// AuthScope narrows which identity paths Resolve may take.
type AuthScope string

const (
	AuthScopeDefault  AuthScope = ""
	AuthScopeMerchant AuthScope = "merchant"
	AuthScopeCustomer AuthScope = "customer"
)

// ResolveInput carries everything a request offered as proof of identity.
// Sessions are pre-fetched by the HTTP layer; a nil session means the
// corresponding cookie was absent or stale.
type ResolveInput struct {
	APIKey          string
	Session         *sessiondomain.Session
	CustomerSession *sessiondomain.CustomerSession
	AuthScope       AuthScope
	CustomerID      string
}

type Resolver interface {
	Resolve(ctx context.Context, input ResolveInput) (*Resolution, error)
}

var (
	// ErrNoIdentity is the terminal failure: no user found for a
	// non-API-key transaction.
	ErrNoIdentity = errors.New("no_user_found")

	ErrMissingContextOrg  = errors.New("customer_session_missing_organization")
	ErrCustomerNotFound   = errors.New("customer_not_found")
	ErrMembershipNotFound = errors.New("membership_not_found")
)
