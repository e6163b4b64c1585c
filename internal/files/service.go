package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/internal/storage"
	"github.com/lgulliver/chunkup/internal/upload"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/lgulliver/chunkup/pkg/utils"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no file matches
var ErrNotFound = errors.New("file not found")

// Registrar is the default completion handler. It copies finished uploads
// out of the in-progress area and records them as files.
type Registrar struct {
	DB      *common.Database
	Storage storage.BlobStorage
	Prefix  string
}

// NewRegistrar creates a registrar storing copies under files/
func NewRegistrar(db *common.Database, blobs storage.BlobStorage) *Registrar {
	return &Registrar{DB: db, Storage: blobs, Prefix: "files"}
}

// StoragePath is where the finished copy of an upload lives
func (r *Registrar) StoragePath(uploadID, name string) string {
	return path.Join(r.Prefix, uploadID, utils.SanitizeFilename(name))
}

// OnCompletion copies the finished content and records it
func (r *Registrar) OnCompletion(ctx context.Context, file *upload.UploadedFile, cc *upload.CompletionContext) error {
	record := &types.File{
		UploadID:    file.UploadID,
		GroupID:     file.GroupID,
		FieldName:   file.FieldName,
		Name:        utils.SanitizeFilename(file.Name),
		StoragePath: r.StoragePath(file.UploadID, file.Name),
		OwnerID:     file.OwnerID,
		CreatedAt:   cc.CompletedAt,
	}

	content, err := file.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open upload %s: %w", file.UploadID, err)
	}
	defer content.Close()

	if err := r.Storage.Store(ctx, record.StoragePath, content, file.Size, "application/octet-stream"); err != nil {
		return fmt.Errorf("failed to copy upload %s: %w", file.UploadID, err)
	}

	// the row describes the stored copy
	record.SHA256, record.Size, err = r.hashStored(ctx, record.StoragePath)
	if err != nil {
		r.cleanup(ctx, record.StoragePath)
		return err
	}
	if record.Size != file.Size {
		r.cleanup(ctx, record.StoragePath)
		return fmt.Errorf("copy of upload %s has %d bytes, expected %d", file.UploadID, record.Size, file.Size)
	}

	if err := r.DB.WithContext(ctx).Create(record).Error; err != nil {
		r.cleanup(ctx, record.StoragePath)
		return fmt.Errorf("failed to save file record: %w", err)
	}

	log.Info().
		Str("upload_id", file.UploadID).
		Str("name", record.Name).
		Int64("size", record.Size).
		Str("size_human", utils.FormatBytes(record.Size)).
		Msg("upload registered as file")
	return nil
}

func (r *Registrar) hashStored(ctx context.Context, storagePath string) (string, int64, error) {
	reader, err := r.Storage.Retrieve(ctx, storagePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read copy: %w", err)
	}
	defer reader.Close()

	sum, size, err := utils.ComputeSHA256FromReader(reader)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash copy: %w", err)
	}
	return sum, size, nil
}

func (r *Registrar) cleanup(ctx context.Context, storagePath string) {
	if err := r.Storage.Delete(ctx, storagePath); err != nil {
		log.Warn().Err(err).Str("storage_path", storagePath).Msg("failed to clean up file copy")
	}
}

// Get returns the file registered for an upload session. A non-nil owner
// only sees their own files.
func (r *Registrar) Get(ctx context.Context, uploadID string, owner *uuid.UUID) (*types.File, error) {
	query := r.DB.WithContext(ctx).Where("upload_id = ?", uploadID)
	if owner != nil {
		query = query.Where("owner_id = ?", *owner)
	}

	var file types.File
	if err := query.First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// Download returns a registered file and its content
func (r *Registrar) Download(ctx context.Context, uploadID string, owner *uuid.UUID) (*types.File, io.ReadCloser, error) {
	file, err := r.Get(ctx, uploadID, owner)
	if err != nil {
		return nil, nil, err
	}

	content, err := r.Storage.Retrieve(ctx, file.StoragePath)
	if err != nil {
		log.Error().Err(err).Str("storage_path", file.StoragePath).Msg("failed to retrieve file from storage")
		return nil, nil, fmt.Errorf("failed to retrieve file: %w", err)
	}
	return file, content, nil
}

// List returns the files of owner, newest first
func (r *Registrar) List(ctx context.Context, owner uuid.UUID, limit, offset int) ([]types.File, int64, error) {
	query := r.DB.WithContext(ctx).Model(&types.File{}).Where("owner_id = ?", owner)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count files: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	var files []types.File
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&files).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list files: %w", err)
	}
	return files, total, nil
}
