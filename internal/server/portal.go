package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	pricingdomain "github.com/flowglad/flowglad/internal/pricing/domain"
	"github.com/flowglad/flowglad/internal/transaction"
	"gorm.io/gorm"
)

// GetPortalPricing returns the pricing model visible to the authenticated
// customer: the one pinned on the customer record, or the organization's
// default when none is pinned. Row-level policies scope every read to the
// customer's organization and live mode.
func (s *Server) GetPortalPricing(c *gin.Context) {
	input, ok := s.resolveInput(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var resp pricingModelResponse
	err := s.runner.AuthenticatedTransaction(c.Request.Context(), input, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *transaction.Effects) error {
		var (
			model *pricingdomain.PricingModel
			tree  *pricingdomain.Tree
			err   error
		)
		if claim.PricingModelID != "" {
			modelID, parseErr := snowflake.ParseString(claim.PricingModelID)
			if parseErr != nil {
				return pricingdomain.NewNotFoundError("pricing_model", claim.PricingModelID)
			}
			model, tree, err = s.pricingSvc.Get(ctx, tx, modelID)
		} else {
			model, tree, err = s.pricingSvc.GetDefault(ctx, tx)
		}
		if err != nil {
			return err
		}
		resp = pricingModelResponse{
			ID:        model.ID.String(),
			Name:      model.Name,
			IsDefault: model.IsDefault,
			Livemode:  model.Livemode,
			Tree:      *tree,
		}
		return nil
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
