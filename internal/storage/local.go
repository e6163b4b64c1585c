package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lgulliver/chunkup/internal/common"
	"github.com/rs/zerolog/log"
)

// LocalStorage implements BlobStorage on the local filesystem. Writers
// serialize per path; writes to different blobs run in parallel.
type LocalStorage struct {
	basePath string
	paths    *common.KeyedMutex
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	log.Info().Str("path", basePath).Msg("local storage initialized")
	return &LocalStorage{
		basePath: basePath,
		paths:    common.NewKeyedMutex(),
	}, nil
}

// resolve maps a storage path below the base directory
func (ls *LocalStorage) resolve(path string) (string, error) {
	fullPath := filepath.Join(ls.basePath, filepath.FromSlash(path))
	rel, err := filepath.Rel(ls.basePath, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path: %s", path)
	}
	return fullPath, nil
}

// Store saves content with an atomic temp-file rename. The size hint is unused.
func (ls *LocalStorage) Store(ctx context.Context, path string, content io.Reader, size int64, contentType string) error {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return err
	}

	unlock, err := ls.paths.Lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("path", path).Str("dir", dir).Msg("failed to create directory")
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := fullPath + ".tmp." + fmt.Sprintf("%d", time.Now().UnixNano())
	tempFile, err := os.Create(tempPath)
	if err != nil {
		log.Error().Err(err).Str("path", path).Str("temp_path", tempPath).Msg("failed to create temporary file")
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	bytesWritten, err := io.Copy(tempFile, content)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to write content to temporary file")
		return fmt.Errorf("failed to write content: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to sync temporary file")
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	tempFile.Close()

	if err := os.Rename(tempPath, fullPath); err != nil {
		log.Error().Err(err).Str("path", path).Str("temp_path", tempPath).Msg("failed to move temporary file to final location")
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	log.Info().
		Str("path", path).
		Str("content_type", contentType).
		Int64("bytes_written", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("file stored successfully")

	return nil
}

// Create makes an empty blob, truncating anything already there
func (ls *LocalStorage) Create(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return err
	}

	unlock, err := ls.paths.Lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to create blob")
		return fmt.Errorf("failed to create blob: %w", err)
	}
	defer file.Close()

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync blob: %w", err)
	}

	log.Debug().Str("path", path).Msg("blob created")
	return nil
}

// Append writes content at offset, dropping any stray tail from an earlier unrecorded write
func (ls *LocalStorage) Append(ctx context.Context, path string, offset int64, content io.Reader, size int64) (int64, error) {
	startTime := time.Now()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return 0, err
	}

	unlock, err := ls.paths.Lock(ctx, path)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to open blob for append")
		return 0, fmt.Errorf("failed to open blob: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	if offset > info.Size() {
		return 0, fmt.Errorf("%w: offset %d, size %d", ErrOffsetBeyondEnd, offset, info.Size())
	}

	if err := file.Truncate(offset); err != nil {
		return 0, fmt.Errorf("failed to truncate blob: %w", err)
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek blob: %w", err)
	}

	if size >= 0 {
		content = io.LimitReader(content, size)
	}
	written, err := io.Copy(file, content)
	if err != nil {
		// leave the blob exactly as long as the recorded offset
		file.Truncate(offset)
		log.Error().Err(err).Str("path", path).Int64("offset", offset).Msg("failed to append chunk")
		return 0, fmt.Errorf("failed to append content: %w", err)
	}

	if err := file.Sync(); err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to sync blob")
		return 0, fmt.Errorf("failed to sync blob: %w", err)
	}

	log.Debug().
		Str("path", path).
		Int64("offset", offset).
		Int64("bytes_written", written).
		Dur("duration", time.Since(startTime)).
		Msg("chunk appended")

	return written, nil
}

// Retrieve opens the blob for reading
func (ls *LocalStorage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file not found")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		log.Error().Err(err).Str("path", path).Msg("failed to open file")
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes the blob; a missing blob is not an error
func (ls *LocalStorage) Delete(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return err
	}

	unlock, err := ls.paths.Lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file already deleted or does not exist")
			return nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to delete file")
		return fmt.Errorf("failed to delete file: %w", err)
	}

	log.Info().Str("path", path).Msg("file deleted successfully")
	return nil
}

// Exists checks if the blob exists
func (ls *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		log.Error().Err(err).Str("path", path).Msg("failed to check file existence")
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// GetSize returns the blob length in bytes
func (ls *LocalStorage) GetSize(ctx context.Context, path string) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	fullPath, err := ls.resolve(path)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}

	return info.Size(), nil
}

// List returns blob paths below the prefix
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := ls.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				return filepath.SkipDir
			}
			return err
		}

		if !info.IsDir() {
			relPath, err := filepath.Rel(ls.basePath, path)
			if err != nil {
				return err
			}
			paths = append(paths, filepath.ToSlash(relPath))
		}

		return nil
	})

	if err != nil {
		log.Error().Err(err).Str("prefix", prefix).Msg("failed to list files")
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return paths, nil
}
