package authctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
)

type claimKey struct{}

// WithClaim stores the resolved claim in the context.
func WithClaim(ctx context.Context, claim identitydomain.Claim) context.Context {
	return context.WithValue(ctx, claimKey{}, claim)
}

// ClaimFromContext returns the resolved claim from context, if set.
func ClaimFromContext(ctx context.Context) (identitydomain.Claim, bool) {
	if ctx == nil {
		return identitydomain.Claim{}, false
	}
	claim, ok := ctx.Value(claimKey{}).(identitydomain.Claim)
	return claim, ok
}

// OrgIDFromContext returns the claim's organization ID as a snowflake.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	claim, ok := ClaimFromContext(ctx)
	if !ok || claim.OrganizationID == "" {
		return 0, false
	}
	parsed, err := snowflake.ParseString(claim.OrganizationID)
	if err != nil {
		return 0, false
	}
	return parsed, true
}
