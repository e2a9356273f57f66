package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	"github.com/flowglad/flowglad/internal/authorization"
	"github.com/flowglad/flowglad/internal/events"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	"github.com/flowglad/flowglad/internal/transaction"
	"github.com/flowglad/flowglad/pkg/authctx"
	"gorm.io/gorm"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	input, ok := s.resolveInput(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var keys []apikeydomain.Response
	err := s.runner.AuthenticatedTransaction(c.Request.Context(), input, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *transaction.Effects) error {
		if err := s.authorize(ctx, claim, authorization.ObjectAPIKey, authorization.ActionAPIKeyView); err != nil {
			return err
		}
		list, err := s.apiKeySvc.List(ctx)
		if err != nil {
			return err
		}
		keys = list
		return nil
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	input, ok := s.resolveInput(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	var body apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var secret *apikeydomain.SecretResponse
	err := s.runner.AuthenticatedTransaction(c.Request.Context(), input, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *transaction.Effects) error {
		if err := s.authorize(ctx, claim, authorization.ObjectAPIKey, authorization.ActionAPIKeyCreate); err != nil {
			return err
		}
		created, err := s.apiKeySvc.Create(ctx, body)
		if err != nil {
			return err
		}
		if orgID, ok := authctx.OrgIDFromContext(ctx); ok {
			effects.EmitEvent(events.Event{
				OrgID: orgID,
				Type:  events.EventAPIKeyCreated,
				Payload: map[string]any{
					"key_id":   created.KeyID,
					"name":     body.Name,
					"livemode": body.Livemode,
				},
				DedupeKey: "api_key.created:" + created.KeyID,
			})
		}
		secret = created
		return nil
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, secret)
}

func (s *Server) RotateAPIKey(c *gin.Context) {
	input, ok := s.resolveInput(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	keyID := c.Param("keyID")

	var secret *apikeydomain.SecretResponse
	err := s.runner.AuthenticatedTransaction(c.Request.Context(), input, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *transaction.Effects) error {
		if err := s.authorize(ctx, claim, authorization.ObjectAPIKey, authorization.ActionAPIKeyRotate); err != nil {
			return err
		}
		rotated, err := s.apiKeySvc.Rotate(ctx, keyID)
		if err != nil {
			return err
		}
		secret = rotated
		return nil
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, secret)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	input, ok := s.resolveInput(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	keyID := c.Param("keyID")

	err := s.runner.AuthenticatedTransaction(c.Request.Context(), input, func(ctx context.Context, tx *gorm.DB, claim identitydomain.Claim, effects *transaction.Effects) error {
		if err := s.authorize(ctx, claim, authorization.ObjectAPIKey, authorization.ActionAPIKeyRevoke); err != nil {
			return err
		}
		return s.apiKeySvc.Revoke(ctx, keyID)
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
