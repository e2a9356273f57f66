package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
)

// Service answers permission checks on top of the claim-level role. The
// SQL policies already isolate data by organization; this layer decides
// which operations a caller may invoke at all.
type Service interface {
	Authorize(ctx context.Context, actor, orgID, object, action string) error
	GrantRole(ctx context.Context, actor, orgID, role string) error
}
