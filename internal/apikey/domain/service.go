package domain

import (
	"context"
	"errors"
	"time"
)

const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
}

// Verifier resolves a raw API key to its owning organization and acting
// user. The remote implementation calls the external key-verification
// service; the local one resolves against the api_keys table directly.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*VerificationResult, error)
}

// VerificationResult mirrors the verification service's metadata schema.
type VerificationResult struct {
	Type           KeyType
	UserID         string
	OrganizationID string
	PricingModelID string
	Livemode       bool
}

type CreateRequest struct {
	Name           string   `json:"name"`
	Scopes         []string `json:"scopes"`
	Livemode       bool     `json:"livemode"`
	PricingModelID *string  `json:"pricing_model_id,omitempty"`
}

type Response struct {
	KeyID          string     `json:"key_id"`
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	Scopes         []string   `json:"scopes"`
	Livemode       bool       `json:"livemode"`
	IsActive       bool       `json:"is_active"`
	PricingModelID *string    `json:"pricing_model_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// SecretResponse carries the plaintext key. It is returned exactly once, at
// creation or rotation; only the hash is stored.
type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidKeyID        = errors.New("invalid_key_id")
	ErrNotFound            = errors.New("not_found")
	ErrInvalidKey          = errors.New("invalid_api_key")
	ErrUnmigratedKey       = errors.New("api_key_missing_pricing_model")
	ErrNoDefaultModel      = errors.New("no_default_pricing_model")
)
