package routes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/cmd/api-gateway/middleware"
	apitypes "github.com/lgulliver/chunkup/cmd/api-gateway/types"
	"github.com/lgulliver/chunkup/internal/auth"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/rs/zerolog/log"
)

// AuthRoutes sets up authentication-related routes
func AuthRoutes(api *gin.RouterGroup, authService AuthServiceInterface) {
	group := api.Group("/auth")

	// Public routes
	group.POST("/register", handleRegister(authService))
	group.POST("/login", handleLogin(authService))

	// Protected routes
	authenticated := group.Group("/")
	authenticated.Use(middleware.AuthMiddleware(authService))
	authenticated.POST("/api-keys", handleCreateAPIKey(authService))
	authenticated.GET("/api-keys", handleListAPIKeys(authService))
	authenticated.DELETE("/api-keys/:id", handleRevokeAPIKey(authService))
}

func handleRegister(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "invalid request", Details: err.Error()})
			return
		}

		user, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, auth.ErrUserExists) {
				c.JSON(http.StatusConflict, apitypes.ErrorResponse{Error: err.Error()})
				return
			}
			log.Error().Err(err).Msg("failed to register user")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "failed to register user"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"user": gin.H{
				"id":       user.ID,
				"username": user.Username,
				"email":    user.Email,
				"is_admin": user.IsAdmin,
			},
		})
	}
}

func handleLogin(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "invalid request", Details: err.Error()})
			return
		}

		authToken, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountDisabled) {
				c.JSON(http.StatusUnauthorized, apitypes.ErrorResponse{Error: "invalid credentials"})
				return
			}
			log.Error().Err(err).Msg("login failed")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "login failed"})
			return
		}

		c.JSON(http.StatusOK, authToken)
	}
}

func handleCreateAPIKey(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := middleware.GetUserFromContext(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, apitypes.ErrorResponse{Error: "unauthorized"})
			return
		}

		var req types.APIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "invalid request", Details: err.Error()})
			return
		}

		apiKey, keyValue, err := authService.CreateAPIKey(c.Request.Context(), user.ID, req.Name, req.ExpiresIn)
		if err != nil {
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to create API key")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "failed to create API key"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"api_key": apiKey,
			"key":     keyValue,
		})
	}
}

func handleListAPIKeys(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := middleware.GetUserFromContext(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, apitypes.ErrorResponse{Error: "unauthorized"})
			return
		}

		apiKeys, err := authService.ListAPIKeys(c.Request.Context(), user.ID)
		if err != nil {
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("failed to list API keys")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "failed to list API keys"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"api_keys": apiKeys})
	}
}

func handleRevokeAPIKey(authService AuthServiceInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := middleware.GetUserFromContext(c)
		if !exists {
			c.JSON(http.StatusUnauthorized, apitypes.ErrorResponse{Error: "unauthorized"})
			return
		}

		keyID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, apitypes.ErrorResponse{Error: "invalid API key ID format"})
			return
		}

		if err := authService.RevokeAPIKey(c.Request.Context(), keyID, user.ID); err != nil {
			if errors.Is(err, auth.ErrAPIKeyNotFound) {
				c.JSON(http.StatusNotFound, apitypes.ErrorResponse{Error: err.Error()})
				return
			}
			log.Error().Err(err).Str("key_id", keyID.String()).Msg("failed to revoke API key")
			c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "failed to revoke API key"})
			return
		}

		c.JSON(http.StatusOK, apitypes.MessageResponse{Message: "API key revoked"})
	}
}
