package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/lgulliver/chunkup/pkg/utils"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrUserExists         = errors.New("user with username or email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("user account is disabled")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrAPIKeyExpired      = errors.New("API key has expired")
	ErrAPIKeyNotFound     = errors.New("API key not found")
)

const userCacheTTL = 10 * time.Minute

// Service identifies the owners of uploads. Users authenticate with a JWT
// bearer token or an API key.
type Service struct {
	db     *common.Database
	cache  *common.Cache
	config *config.AuthConfig
	now    func() time.Time
}

// NewService creates a new authentication service. cache may be nil.
func NewService(db *common.Database, cache *common.Cache, config *config.AuthConfig) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		config: config,
		now:    time.Now,
	}
}

func userCacheKey(id uuid.UUID) string {
	return "user:" + id.String()
}

// Register creates a user account. The first account becomes the administrator.
func (s *Service) Register(ctx context.Context, req *types.RegisterRequest) (*types.User, error) {
	var user *types.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&types.User{}).
			Where("username = ? OR email = ?", req.Username, req.Email).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check existing users: %w", err)
		}
		if existing > 0 {
			return ErrUserExists
		}

		var total int64
		if err := tx.Model(&types.User{}).Count(&total).Error; err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}

		hashed, err := utils.HashPassword(req.Password, s.config.BCryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		user = &types.User{
			Username: req.Username,
			Email:    req.Email,
			Password: hashed,
			IsActive: true,
			IsAdmin:  total == 0,
		}
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID.String()).Str("username", user.Username).Bool("admin", user.IsAdmin).Msg("user registered")
	user.Password = ""
	return user, nil
}

// Login checks a username and password and issues a JWT
func (s *Service) Login(ctx context.Context, req *types.LoginRequest) (*types.AuthToken, error) {
	var user types.User
	if err := s.db.WithContext(ctx).Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		log.Warn().Str("username", req.Username).Msg("failed login attempt")
		return nil, ErrInvalidCredentials
	}

	token, err := utils.GenerateJWT(user.ID, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &types.AuthToken{
		Token:     token,
		ExpiresAt: s.now().Add(s.config.JWTExpiration),
		UserID:    user.ID,
	}, nil
}

// ValidateToken resolves a JWT to an active user
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*types.User, error) {
	userID, err := utils.ValidateJWT(tokenString, s.config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return s.activeUser(ctx, userID)
}

// activeUser loads a user through the cache
func (s *Service) activeUser(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	var user types.User
	if err := s.cache.Get(ctx, userCacheKey(userID), &user); err == nil {
		return &user, nil
	} else if !errors.Is(err, common.ErrCacheMiss) {
		log.Warn().Err(err).Msg("failed to read user from cache")
	}

	if err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", userID, true).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Password = ""

	if err := s.cache.Set(ctx, userCacheKey(userID), &user, userCacheTTL); err != nil {
		log.Warn().Err(err).Msg("failed to cache user")
	}
	return &user, nil
}

// SetActive enables or disables an account and drops its cached copy
func (s *Service) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	result := s.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", userID).Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	if err := s.cache.Delete(ctx, userCacheKey(userID)); err != nil {
		log.Warn().Err(err).Msg("failed to evict user from cache")
	}
	return nil
}

// CreateAPIKey issues a key for a user. The plain key is only returned here.
func (s *Service) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string, expiresIn *time.Duration) (*types.APIKey, string, error) {
	keyValue, err := utils.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate API key: %w", err)
	}

	apiKey := &types.APIKey{
		UserID:   userID,
		Name:     name,
		KeyHash:  utils.HashAPIKey(keyValue),
		IsActive: true,
	}
	if expiresIn != nil {
		expiresAt := s.now().Add(*expiresIn)
		apiKey.ExpiresAt = &expiresAt
	}

	if err := s.db.WithContext(ctx).Create(apiKey).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create API key: %w", err)
	}

	log.Info().Str("user_id", userID.String()).Str("key_id", apiKey.ID.String()).Msg("API key created")
	return apiKey, keyValue, nil
}

// ValidateAPIKey resolves an API key to its active user
func (s *Service) ValidateAPIKey(ctx context.Context, keyValue string) (*types.User, *types.APIKey, error) {
	var apiKey types.APIKey
	if err := s.db.WithContext(ctx).Preload("User").
		Where("key_hash = ? AND is_active = ?", utils.HashAPIKey(keyValue), true).
		First(&apiKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidAPIKey
		}
		return nil, nil, fmt.Errorf("failed to validate API key: %w", err)
	}

	now := s.now()
	if apiKey.ExpiresAt != nil && now.After(*apiKey.ExpiresAt) {
		return nil, nil, ErrAPIKeyExpired
	}
	if !apiKey.User.IsActive {
		return nil, nil, ErrAccountDisabled
	}

	if err := s.db.WithContext(ctx).Model(&apiKey).Update("last_used_at", now).Error; err != nil {
		log.Warn().Err(err).Str("key_id", apiKey.ID.String()).Msg("failed to record API key use")
	}

	user := apiKey.User
	user.Password = ""
	return &user, &apiKey, nil
}

// GetUserByID retrieves a user by ID
func (s *Service) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	var user types.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Password = ""
	return &user, nil
}

// ListAPIKeys lists the keys of a user
func (s *Service) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*types.APIKey, error) {
	var apiKeys []*types.APIKey
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&apiKeys).Error; err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	return apiKeys, nil
}

// RevokeAPIKey deactivates one of the user's keys
func (s *Service) RevokeAPIKey(ctx context.Context, keyID uuid.UUID, userID uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&types.APIKey{}).
		Where("id = ? AND user_id = ?", keyID, userID).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to revoke API key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
