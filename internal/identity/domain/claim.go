package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role is the database role a transaction runs under.
type Role string

const (
	RoleMerchant Role = "merchant"
	RoleCustomer Role = "customer"
)

// AuthType records how the caller authenticated. The SQL policies branch on
// it: api_key claims bypass the focused-membership check because keys are
// pinned to one organization regardless of which org the human user has
// focused in the dashboard.
type AuthType string

const (
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeWebapp AuthType = "webapp"
)

// Claim is bound to the SQL session as request.jwt.claims. The JSON field
// names below are read by the row-level-security policies; changing them
// breaks every policy at once.
type Claim struct {
	UserID         string   `json:"sub"`
	OrganizationID string   `json:"organization_id"`
	Email          string   `json:"email"`
	Role           Role     `json:"role"`
	AuthType       AuthType `json:"auth_type"`
	Livemode       bool     `json:"livemode"`
	PricingModelID string   `json:"pricing_model_id,omitempty"`
	IssuedAt       int64    `json:"iat"`
	ExpiresAt      int64    `json:"exp"`
}

func (c Claim) Valid() bool {
	return c.UserID != "" && c.Role != "" && c.AuthType != ""
}

// EncodeJSON renders the claim exactly as the policies expect it.
func (c Claim) EncodeJSON() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Resolution is the identity resolver's output.
type Resolution struct {
	UserID   string
	Livemode bool
	Claim    Claim
}

// ContextType tags a stored transaction context snapshot.
type ContextType string

const (
	ContextTypeMerchant ContextType = "merchant"
	ContextTypeCustomer ContextType = "customer"
)

// TransactionContext is the minimal identity snapshot captured alongside a
// cached computation. The recompute path replays it without re-verifying
// credentials, so it must never be populated from untrusted input.
type TransactionContext struct {
	Type           ContextType `json:"type"`
	UserID         string      `json:"user_id"`
	OrganizationID string      `json:"organization_id"`
	Livemode       bool        `json:"livemode"`
	CustomerID     string      `json:"customer_id,omitempty"`
}

// ClaimFromTransactionContext rebuilds a claim from a stored snapshot.
// Credentials are not re-verified, only identity is replayed: the email is
// synthetic and merchant contexts carry auth_type api_key so the policies
// skip the focused-membership check the original caller may no longer pass.
func ClaimFromTransactionContext(tc TransactionContext, now time.Time) Claim {
	claim := Claim{
		UserID:         tc.UserID,
		OrganizationID: tc.OrganizationID,
		Email:          syntheticEmail(tc.UserID),
		Livemode:       tc.Livemode,
		IssuedAt:       now.Unix(),
		ExpiresAt:      now.Add(time.Hour).Unix(),
	}
	switch tc.Type {
	case ContextTypeCustomer:
		claim.Role = RoleCustomer
		claim.AuthType = AuthTypeWebapp
	default:
		claim.Role = RoleMerchant
		claim.AuthType = AuthTypeAPIKey
	}
	return claim
}

func syntheticEmail(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID)) + "@recompute.internal"
}
