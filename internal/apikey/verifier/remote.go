package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	"github.com/flowglad/flowglad/internal/config"
	"go.uber.org/zap"
)

// Remote calls the external key-verification service. Treated as an
// untrusted network call: bounded timeout, no retries here.
type Remote struct {
	endpoint string
	token    string
	client   *http.Client
	log      *zap.Logger
}

func NewRemote(cfg config.Config, log *zap.Logger) *Remote {
	return &Remote{
		endpoint: cfg.KeyVerifierEndpoint,
		token:    cfg.KeyVerifierToken,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log.Named("apikey.verifier.remote"),
	}
}

type verifyRequest struct {
	Key string `json:"key"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
	Meta  struct {
		Type           string `json:"type"`
		UserID         string `json:"userId"`
		OrganizationID string `json:"organizationId"`
		PricingModelID string `json:"pricingModelId,omitempty"`
	} `json:"meta"`
	Environment string `json:"environment"`
	OwnerID     string `json:"ownerId"`
}

func (v *Remote) Verify(ctx context.Context, raw string) (*apikeydomain.VerificationResult, error) {
	body, err := json.Marshal(verifyRequest{Key: raw})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.token != "" {
		req.Header.Set("Authorization", "Bearer "+v.token)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify api key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apikeydomain.ErrInvalidKey
	}

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode verification response: %w", err)
	}
	if !decoded.Valid || decoded.OwnerID == "" {
		return nil, apikeydomain.ErrInvalidKey
	}

	return &apikeydomain.VerificationResult{
		Type:           apikeydomain.KeyType(decoded.Meta.Type),
		UserID:         decoded.Meta.UserID,
		OrganizationID: decoded.Meta.OrganizationID,
		PricingModelID: decoded.Meta.PricingModelID,
		Livemode:       decoded.Environment == "live",
	}, nil
}
