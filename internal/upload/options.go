package upload

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/internal/checksum"
	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/lgulliver/chunkup/pkg/types"
)

// PermissionFunc decides whether owner may start or continue uploads. A nil
// owner is an anonymous caller.
type PermissionFunc func(ctx context.Context, owner *uuid.UUID) bool

// Hooks run around every write of an upload record. A BeforeSave error
// aborts the write and is returned to the caller.
type Hooks interface {
	BeforeSave(ctx context.Context, upload *types.Upload, created bool) error
	AfterSave(ctx context.Context, upload *types.Upload, created bool)
}

// CompletionHandler receives each upload once it has been verified and marked complete
type CompletionHandler interface {
	OnCompletion(ctx context.Context, file *UploadedFile, cc *CompletionContext) error
}

// CompletionHandlerFunc adapts a function to CompletionHandler
type CompletionHandlerFunc func(ctx context.Context, file *UploadedFile, cc *CompletionContext) error

func (f CompletionHandlerFunc) OnCompletion(ctx context.Context, file *UploadedFile, cc *CompletionContext) error {
	return f(ctx, file, cc)
}

// UploadedFile is the finished content of one upload
type UploadedFile struct {
	UploadID    string
	GroupID     *string
	FieldName   string
	Name        string
	Size        int64
	StoragePath string
	OwnerID     *uuid.UUID
	Metadata    types.JSONMap

	open func(ctx context.Context) (io.ReadCloser, error)
}

// NewUploadedFile describes a finished upload whose content open returns
func NewUploadedFile(upload *types.Upload, open func(ctx context.Context) (io.ReadCloser, error)) *UploadedFile {
	return &UploadedFile{
		UploadID:    upload.ID,
		GroupID:     upload.GroupID,
		FieldName:   upload.FieldName,
		Name:        upload.Filename,
		Size:        upload.Offset,
		StoragePath: upload.StoragePath,
		OwnerID:     upload.OwnerID,
		Metadata:    upload.Metadata,
		open:        open,
	}
}

// Open returns a reader over exactly Size bytes of the finished content
func (f *UploadedFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return f.open(ctx)
}

// CompletionContext describes the request that completed the upload
type CompletionContext struct {
	UploadID    string
	Owner       *uuid.UUID
	CompletedAt time.Time
	// Files holds every member completed by the same request
	Files []*UploadedFile
}

// Options configures the protocol
type Options struct {
	ExpirationDelta    time.Duration
	UploadPath         string
	MaxBytes           int64
	RequireRangeHeader bool
	ChecksumCheck      bool
	// SupportedChecksums is tried in order; the first claimed algorithm is verified
	SupportedChecksums []checksum.Algorithm
	OwnerScoped        bool
	Grouping           bool
	RequiredFields     []string

	Permission   PermissionFunc
	Hooks        Hooks
	OnCompletion CompletionHandler
}

// OptionsFromConfig builds protocol options from the upload configuration
func OptionsFromConfig(cfg *config.UploadConfig) (Options, error) {
	algorithms, err := checksum.ParseList(cfg.SupportedChecksums)
	if err != nil {
		return Options{}, fmt.Errorf("invalid supported checksums: %w", err)
	}
	if cfg.ChecksumCheck && len(algorithms) == 0 {
		return Options{}, fmt.Errorf("checksum check is enabled but no checksum algorithm is supported")
	}

	return Options{
		ExpirationDelta:    cfg.ExpirationDelta,
		UploadPath:         cfg.UploadPath,
		MaxBytes:           cfg.MaxBytes,
		RequireRangeHeader: cfg.RequireRangeHeader,
		ChecksumCheck:      cfg.ChecksumCheck,
		SupportedChecksums: algorithms,
		OwnerScoped:        cfg.OwnerScoped,
		Grouping:           cfg.Grouping,
		RequiredFields:     cfg.RequiredFields,
	}, nil
}

type noopHooks struct{}

func (noopHooks) BeforeSave(context.Context, *types.Upload, bool) error { return nil }
func (noopHooks) AfterSave(context.Context, *types.Upload, bool)        {}

// BlobRoot returns the leading directories of an UploadPath layout that do
// not change with the date. Every in-progress blob lives below it. An empty
// result means the layout starts with a date element.
func BlobRoot(layout string) string {
	a := strings.Split(time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC).Format(layout), "/")
	b := strings.Split(time.Date(2012, 11, 25, 15, 16, 17, 0, time.UTC).Format(layout), "/")

	var root []string
	for i := 0; i < len(a) && i < len(b) && a[i] == b[i]; i++ {
		root = append(root, a[i])
	}
	return strings.Join(root, "/")
}
