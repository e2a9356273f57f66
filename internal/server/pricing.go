package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/flowglad/flowglad/internal/authorization"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	pricingdomain "github.com/flowglad/flowglad/internal/pricing/domain"
	"github.com/flowglad/flowglad/internal/transaction"
	"gorm.io/gorm"
)

type pricingModelResponse struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	IsDefault bool               `json:"isDefault"`
	Livemode  bool               `json:"livemode"`
	Tree      pricingdomain.Tree `json:"config"`
}

type updateResultResponse struct {
	PricingModelID string `json:"pricingModelId"`

	ProductsCreated int `json:"productsCreated"`
	ProductsUpdated int `json:"productsUpdated"`
	ProductsRemoved int `json:"productsRemoved"`

	PricesCreated     int `json:"pricesCreated"`
	PricesDeactivated int `json:"pricesDeactivated"`

	FeaturesCreated int `json:"featuresCreated"`
	FeaturesUpdated int `json:"featuresUpdated"`
	FeaturesRemoved int `json:"featuresRemoved"`

	UsageMetersCreated int `json:"usageMetersCreated"`
	UsageMetersUpdated int `json:"usageMetersUpdated"`

	ResourcesCreated int `json:"resourcesCreated"`
	ResourcesUpdated int `json:"resourcesUpdated"`
	ResourcesRemoved int `json:"resourcesRemoved"`

	FeatureLinksAdded    int `json:"featureLinksAdded"`
	FeatureLinksExpired  int `json:"featureLinksExpired"`
	FeatureLinksRestored int `json:"featureLinksRestored"`
}

func (s *Server) GetPricingModel(c *gin.Context) {
	input, ok := s.resolveInput(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	modelID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var resp pricingModelResponse
	err = s.runner.AuthenticatedTransaction(c.Request.Context(), input, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *transaction.Effects) error {
		if claim.Role == identitydomain.RoleMerchant {
			if err := s.authorize(ctx, claim, authorization.ObjectPricingModel, authorization.ActionPricingModelView); err != nil {
				return err
			}
		}
		model, tree, err := s.pricingSvc.Get(ctx, tx, modelID)
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

func (s *Server) CreatePricingModel(c *gin.Context) {
	input, ok := s.resolveInput(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var body pricingdomain.SetupInput
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var resp pricingModelResponse
	err := s.runner.AuthenticatedTransaction(c.Request.Context(), input, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *transaction.Effects) error {
		if err := s.authorize(ctx, claim, authorization.ObjectPricingModel, authorization.ActionPricingModelCreate); err != nil {
			return err
		}
		model, err := s.pricingSvc.Setup(ctx, tx, body, effects)
		if err != nil {
			return err
		}
		_, tree, err := s.pricingSvc.Get(ctx, tx, model.ID)
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
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) UpdatePricingModel(c *gin.Context) {
	input, ok := s.resolveInput(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	modelID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var body pricingdomain.UpdateInput
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	// Serialize updates of one model across instances. Two interleaved
	// reconciliations could otherwise both pass the diff stage and apply
	// conflicting writes.
	token, acquired, err := s.limiter.LockPricingModel(c.Request.Context(), modelID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !acquired {
		AbortWithError(c, ErrConflict)
		return
	}
	defer s.limiter.UnlockPricingModel(c.Request.Context(), modelID, token)

	var result *pricingdomain.UpdateResult
	err = s.runner.AuthenticatedTransaction(c.Request.Context(), input, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *transaction.Effects) error {
		if err := s.authorize(ctx, claim, authorization.ObjectPricingModel, authorization.ActionPricingModelUpdate); err != nil {
			return err
		}
		res, err := s.pricingSvc.Update(ctx, tx, modelID, body, effects)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, updateResultResponse{
		PricingModelID:       result.Model.ID.String(),
		ProductsCreated:      result.ProductsCreated,
		ProductsUpdated:      result.ProductsUpdated,
		ProductsRemoved:      result.ProductsRemoved,
		PricesCreated:        result.PricesCreated,
		PricesDeactivated:    result.PricesDeactivated,
		FeaturesCreated:      result.FeaturesCreated,
		FeaturesUpdated:      result.FeaturesUpdated,
		FeaturesRemoved:      result.FeaturesRemoved,
		UsageMetersCreated:   result.UsageMetersCreated,
		UsageMetersUpdated:   result.UsageMetersUpdated,
		ResourcesCreated:     result.ResourcesCreated,
		ResourcesUpdated:     result.ResourcesUpdated,
		ResourcesRemoved:     result.ResourcesRemoved,
		FeatureLinksAdded:    result.FeatureLinksAdded,
		FeatureLinksExpired:  result.FeatureLinksExpired,
		FeatureLinksRestored: result.FeatureLinksRestored,
	})
}

// authorize grants the claim's role in the enforcer if needed and checks
// the permission. Role grants are idempotent, so repeating them per request
// costs one in-memory lookup.
func (s *Server) authorize(ctx context.Context, claim identitydomain.Claim, object, action string) error {
	role := authorization.RoleMerchant
	if claim.Role == identitydomain.RoleCustomer {
		role = authorization.RoleCustomer
	}
	if err := s.authzSvc.GrantRole(ctx, claim.UserID, claim.OrganizationID, role); err != nil {
		return err
	}
	return s.authzSvc.Authorize(ctx, claim.UserID, claim.OrganizationID, object, action)
}
