package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const defaultListLimit = 50

// GormStore implements Store on top of the shared gorm database
type GormStore struct {
	db *common.Database
}

// NewGormStore creates a new gorm-backed session store
func NewGormStore(db *common.Database) *GormStore {
	return &GormStore{db: db}
}

// Create inserts a new upload session
func (s *GormStore) Create(ctx context.Context, upload *types.Upload) error {
	if upload.CreatedAt.IsZero() {
		upload.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(upload).Error; err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}

	log.Debug().Str("upload_id", upload.ID).Str("filename", upload.Filename).Msg("upload session created")
	return nil
}

// CreateGroup inserts a new upload group
func (s *GormStore) CreateGroup(ctx context.Context, group *types.UploadGroup) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Omit("Uploads").Create(group).Error; err != nil {
		return fmt.Errorf("failed to create upload group: %w", err)
	}
	return nil
}

// Get returns the upload with id, visible in scope
func (s *GormStore) Get(ctx context.Context, id string, scope Scope) (*types.Upload, error) {
	var upload types.Upload
	query := scope.apply(s.db.WithContext(ctx).Where("id = ?", id))
	if err := query.First(&upload).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return &upload, nil
}

// GetGroup returns the group with id and its members
func (s *GormStore) GetGroup(ctx context.Context, id string, scope Scope) (*types.UploadGroup, error) {
	var group types.UploadGroup
	query := scope.apply(s.db.WithContext(ctx).Where("id = ?", id)).
		Preload("Uploads", func(db *gorm.DB) *gorm.DB {
			return db.Order("field_name ASC")
		})
	if err := query.First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get upload group: %w", err)
	}
	return &group, nil
}

// GroupMembers returns every upload in a group ordered by field name
func (s *GormStore) GroupMembers(ctx context.Context, groupID string) ([]types.Upload, error) {
	var uploads []types.Upload
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("field_name ASC").Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return uploads, nil
}

// FindByChecksum returns the newest resumable or finished upload for a whole-file checksum
func (s *GormStore) FindByChecksum(ctx context.Context, checksum string, scope Scope, notBefore time.Time) (*types.Upload, error) {
	var upload types.Upload
	query := scope.apply(s.db.WithContext(ctx).Where("content_checksum = ?", checksum)).
		Where("status = ? OR (status = ? AND created_at > ?)", types.StatusComplete, types.StatusUploading, notBefore.UTC()).
		Order("created_at DESC")
	if err := query.First(&upload).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find upload by checksum: %w", err)
	}
	return &upload, nil
}

// ListOlderThan returns uploads of any status created at or before cutoff
func (s *GormStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]types.Upload, error) {
	var uploads []types.Upload
	if err := s.db.WithContext(ctx).Where("created_at <= ?", cutoff.UTC()).Order("created_at ASC").Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("failed to list expired uploads: %w", err)
	}
	return uploads, nil
}

// List returns a filtered page of uploads for administration
func (s *GormStore) List(ctx context.Context, filter *types.UploadFilter) ([]types.Upload, int64, error) {
	query := s.db.WithContext(ctx).Model(&types.Upload{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.OwnerID != nil {
		query = query.Where("owner_id = ?", *filter.OwnerID)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.Where("filename LIKE ? OR id = ? OR group_id = ?", pattern, filter.Search, filter.Search)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count uploads: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var uploads []types.Upload
	if err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&uploads).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list uploads: %w", err)
	}

	return uploads, total, nil
}

// Update writes offset, status, digests and metadata guarded by the expected offset
func (s *GormStore) Update(ctx context.Context, upload *types.Upload, expectedOffset int64) error {
	upload.UpdatedAt = time.Now().UTC()

	result := s.db.WithContext(ctx).Model(&types.Upload{}).
		Where("id = ? AND byte_offset = ?", upload.ID, expectedOffset).
		Updates(map[string]interface{}{
			"byte_offset":  upload.Offset,
			"status":       upload.Status,
			"checksums":    upload.Checksums,
			"metadata":     upload.Metadata,
			"completed_at": upload.CompletedAt,
			"updated_at":   upload.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update upload: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		log.Warn().
			Str("upload_id", upload.ID).
			Int64("expected_offset", expectedOffset).
			Msg("upload update lost a race")
		return ErrConflict
	}
	return nil
}

// Delete removes the upload record, and its group once no members remain
func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var upload types.Upload
		if err := tx.Where("id = ?", id).First(&upload).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load upload: %w", err)
		}

		if err := tx.Delete(&types.Upload{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to delete upload: %w", err)
		}

		if upload.GroupID == nil {
			return nil
		}

		var remaining int64
		if err := tx.Model(&types.Upload{}).Where("group_id = ?", *upload.GroupID).Count(&remaining).Error; err != nil {
			return fmt.Errorf("failed to count group members: %w", err)
		}
		if remaining == 0 {
			if err := tx.Delete(&types.UploadGroup{}, "id = ?", *upload.GroupID).Error; err != nil {
				return fmt.Errorf("failed to delete upload group: %w", err)
			}
		}
		return nil
	})
}
