package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apitypes "github.com/lgulliver/chunkup/cmd/api-gateway/types"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/rs/zerolog/log"
)

const userKey = "user"

// authenticate resolves the caller from a bearer token or an API key. A
// bearer token that fails validation is not retried as an API key.
func authenticate(c *gin.Context, authService AuthServiceInterface) (*types.User, bool) {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		user, err := authService.ValidateToken(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			log.Debug().Err(err).Msg("bearer token rejected")
			return nil, false
		}
		return user, true
	}

	apiKey := c.GetHeader("X-API-Key")
	if apiKey == "" {
		apiKey = c.Query("api_key")
	}
	if apiKey != "" {
		user, _, err := authService.ValidateAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			log.Debug().Err(err).Msg("API key rejected")
			return nil, false
		}
		return user, true
	}

	return nil, false
}

// AuthMiddleware requires a valid JWT or API key
func AuthMiddleware(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authenticate(c, authService)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apitypes.ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// OptionalAuthMiddleware identifies the caller when credentials are given.
// Invalid credentials leave the request anonymous.
func OptionalAuthMiddleware(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := authenticate(c, authService); ok {
			c.Set(userKey, user)
		}
		c.Next()
	}
}

// AdminOnly rejects callers that are not administrators. It must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := GetUserFromContext(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apitypes.ErrorResponse{Error: "authentication required"})
			return
		}
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, apitypes.ErrorResponse{Error: "admin privileges required"})
			return
		}
		c.Next()
	}
}

// GetUserFromContext extracts the authenticated user from gin context
func GetUserFromContext(c *gin.Context) (*types.User, bool) {
	user, exists := c.Get(userKey)
	if !exists {
		return nil, false
	}
	typedUser, ok := user.(*types.User)
	return typedUser, ok
}

// OwnerFromContext returns the caller's user id, nil for anonymous requests
func OwnerFromContext(c *gin.Context) *uuid.UUID {
	user, ok := GetUserFromContext(c)
	if !ok || user == nil {
		return nil
	}
	id := user.ID
	return &id
}
