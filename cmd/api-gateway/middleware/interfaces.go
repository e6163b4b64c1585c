package middleware

import (
	"context"

	"github.com/lgulliver/chunkup/pkg/types"
)

// AuthServiceInterface resolves request credentials to users
type AuthServiceInterface interface {
	ValidateToken(ctx context.Context, token string) (*types.User, error)
	ValidateAPIKey(ctx context.Context, apiKey string) (*types.User, *types.APIKey, error)
}
