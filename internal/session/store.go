package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/pkg/types"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when no upload or group matches the id and scope
	ErrNotFound = errors.New("upload not found")

	// ErrConflict is returned by Update when the stored offset moved underneath the caller
	ErrConflict = errors.New("upload was modified concurrently")
)

// Scope restricts lookups to one principal's uploads
type Scope struct {
	Enforce bool
	OwnerID *uuid.UUID
}

// Unscoped matches every upload regardless of owner
func Unscoped() Scope {
	return Scope{}
}

// OwnedBy matches only uploads owned by owner. A nil owner matches only anonymous uploads.
func OwnedBy(owner *uuid.UUID) Scope {
	return Scope{Enforce: true, OwnerID: owner}
}

// Allows reports whether an upload owned by owner is visible in this scope
func (s Scope) Allows(owner *uuid.UUID) bool {
	if !s.Enforce {
		return true
	}
	if s.OwnerID == nil || owner == nil {
		return s.OwnerID == nil && owner == nil
	}
	return *s.OwnerID == *owner
}

func (s Scope) apply(db *gorm.DB) *gorm.DB {
	if !s.Enforce {
		return db
	}
	if s.OwnerID == nil {
		return db.Where("owner_id IS NULL")
	}
	return db.Where("owner_id = ?", *s.OwnerID)
}

// Store persists upload sessions and their groups
type Store interface {
	// Create inserts a new upload session
	Create(ctx context.Context, upload *types.Upload) error

	// CreateGroup inserts a new upload group; members are created separately
	CreateGroup(ctx context.Context, group *types.UploadGroup) error

	// Get returns the upload with id, visible in scope
	Get(ctx context.Context, id string, scope Scope) (*types.Upload, error)

	// GetGroup returns the group with id and its members ordered by field name
	GetGroup(ctx context.Context, id string, scope Scope) (*types.UploadGroup, error)

	// GroupMembers returns every upload in a group
	GroupMembers(ctx context.Context, groupID string) ([]types.Upload, error)

	// FindByChecksum returns the most recent complete upload, or uploading one
	// created after notBefore, whose whole-file checksum matches
	FindByChecksum(ctx context.Context, checksum string, scope Scope, notBefore time.Time) (*types.Upload, error)

	// ListOlderThan returns uploads of any status created at or before cutoff
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]types.Upload, error)

	// List returns a filtered page of uploads and the total match count
	List(ctx context.Context, filter *types.UploadFilter) ([]types.Upload, int64, error)

	// Update writes the mutable fields of upload if the stored offset still equals expectedOffset
	Update(ctx context.Context, upload *types.Upload, expectedOffset int64) error

	// Delete removes the upload record, and its group once the group is empty
	Delete(ctx context.Context, id string) error
}
