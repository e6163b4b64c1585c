package routes

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/cmd/api-gateway/middleware"
	"github.com/lgulliver/chunkup/internal/sweeper"
	"github.com/lgulliver/chunkup/internal/upload"
	"github.com/lgulliver/chunkup/pkg/types"
)

// UploadServiceInterface is the chunked upload protocol
type UploadServiceInterface interface {
	AppendChunk(ctx context.Context, req *upload.AppendRequest) (*upload.Result, error)
	CompleteUpload(ctx context.Context, req *upload.CompleteRequest) (*upload.Result, error)
	ResumeLookup(ctx context.Context, owner *uuid.UUID, checksum string) (*upload.Result, error)
	Status(ctx context.Context, owner *uuid.UUID, id string) ([]types.Upload, error)
	Delete(ctx context.Context, owner *uuid.UUID, id string) error
	List(ctx context.Context, filter *types.UploadFilter) ([]types.Upload, int64, error)
	ExpirationDelta() time.Duration
}

// FileServiceInterface serves files registered from finished uploads
type FileServiceInterface interface {
	Get(ctx context.Context, uploadID string, owner *uuid.UUID) (*types.File, error)
	Download(ctx context.Context, uploadID string, owner *uuid.UUID) (*types.File, io.ReadCloser, error)
	List(ctx context.Context, owner uuid.UUID, limit, offset int) ([]types.File, int64, error)
}

// SweeperInterface deletes expired uploads on demand
type SweeperInterface interface {
	Sweep(ctx context.Context) (*sweeper.Report, error)
}

// AuthServiceInterface covers account and API key management
type AuthServiceInterface interface {
	middleware.AuthServiceInterface
	Register(ctx context.Context, req *types.RegisterRequest) (*types.User, error)
	Login(ctx context.Context, req *types.LoginRequest) (*types.AuthToken, error)
	CreateAPIKey(ctx context.Context, userID uuid.UUID, name string, expiresIn *time.Duration) (*types.APIKey, string, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*types.APIKey, error)
	RevokeAPIKey(ctx context.Context, keyID uuid.UUID, userID uuid.UUID) error
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error)
	SetActive(ctx context.Context, userID uuid.UUID, active bool) error
}
