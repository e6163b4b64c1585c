package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

const partSuffix = ".part"

// S3Storage implements BlobStorage on any S3-compatible object store.
//
// Objects are immutable, so an appendable blob is stored as a prefix of part
// objects keyed by their starting offset: "<path>/<offset>.part". Reading the
// blob concatenates the parts in offset order.
type S3Storage struct {
	objects objectStore
}

// objectStore is the slice of the S3 API the blob layout needs
type objectStore interface {
	put(ctx context.Context, key string, content io.Reader, size int64, contentType string) (int64, error)
	get(ctx context.Context, key string) (io.ReadCloser, error)
	// stat reports the object size and whether it exists
	stat(ctx context.Context, key string) (int64, bool, error)
	// remove succeeds for missing keys
	remove(ctx context.Context, key string) error
	list(ctx context.Context, prefix string) ([]objectInfo, error)
}

type objectInfo struct {
	key  string
	size int64
}

// minioObjects is the objectStore of a minio-go client bound to one bucket
type minioObjects struct {
	client *minio.Client
	bucket string
}

func (m *minioObjects) put(ctx context.Context, key string, content io.Reader, size int64, contentType string) (int64, error) {
	info, err := m.client.PutObject(ctx, m.bucket, key, content, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (m *minioObjects) get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (m *minioObjects) stat(ctx context.Context, key string) (int64, bool, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size, true, nil
}

func (m *minioObjects) remove(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return err
	}
	return nil
}

func (m *minioObjects) list(ctx context.Context, prefix string) ([]objectInfo, error) {
	var objects []objectInfo
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		objects = append(objects, objectInfo{key: obj.Key, size: obj.Size})
	}
	return objects, nil
}

// NewS3Storage connects to the configured endpoint and makes sure the bucket exists
func NewS3Storage(cfg *config.StorageConfig) (*S3Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("created storage bucket")
	}

	log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("s3 storage initialized")
	return &S3Storage{objects: &minioObjects{client: client, bucket: cfg.Bucket}}, nil
}

type blobPart struct {
	key    string
	offset int64
	size   int64
}

func partKey(path string, offset int64) string {
	return fmt.Sprintf("%s/%020d%s", strings.TrimSuffix(path, "/"), offset, partSuffix)
}

// parsePartKey extracts the blob path and starting offset from a part key
func parsePartKey(key string) (string, int64, bool) {
	if !strings.HasSuffix(key, partSuffix) {
		return "", 0, false
	}
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return "", 0, false
	}
	offset, err := strconv.ParseInt(strings.TrimSuffix(key[idx+1:], partSuffix), 10, 64)
	if err != nil {
		return "", 0, false
	}
	return key[:idx], offset, true
}

func (s *S3Storage) listParts(ctx context.Context, path string) ([]blobPart, error) {
	path = strings.TrimSuffix(path, "/")
	objects, err := s.objects.list(ctx, path+"/")
	if err != nil {
		return nil, fmt.Errorf("list parts of %q: %w", path, err)
	}

	var parts []blobPart
	for _, obj := range objects {
		blobPath, offset, ok := parsePartKey(obj.key)
		if !ok || blobPath != path {
			continue
		}
		parts = append(parts, blobPart{key: obj.key, offset: offset, size: obj.size})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].offset < parts[j].offset })
	return parts, nil
}

// Store puts a complete single object at path
func (s *S3Storage) Store(ctx context.Context, path string, content io.Reader, size int64, contentType string) error {
	written, err := s.objects.put(ctx, path, content, size, contentType)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to put object")
		return fmt.Errorf("put object %q: %w", path, err)
	}

	log.Info().Str("path", path).Int64("bytes_written", written).Msg("file stored successfully")
	return nil
}

// Create starts an empty blob, discarding any existing parts
func (s *S3Storage) Create(ctx context.Context, path string) error {
	if err := s.Delete(ctx, path); err != nil {
		return err
	}
	if _, err := s.objects.put(ctx, partKey(path, 0), strings.NewReader(""), 0, "application/octet-stream"); err != nil {
		return fmt.Errorf("create blob %q: %w", path, err)
	}
	return nil
}

// Append uploads content as the part starting at offset. A known size is
// sent as the object length so the upload is a single PUT.
func (s *S3Storage) Append(ctx context.Context, path string, offset int64, content io.Reader, size int64) (int64, error) {
	parts, err := s.listParts(ctx, path)
	if err != nil {
		return 0, err
	}

	var end int64
	for _, part := range parts {
		if part.offset >= offset {
			// stray part from an append that was never recorded
			if err := s.objects.remove(ctx, part.key); err != nil {
				return 0, fmt.Errorf("remove stale part %q: %w", part.key, err)
			}
			continue
		}
		if part.offset+part.size > offset {
			return 0, fmt.Errorf("part %q overlaps offset %d", part.key, offset)
		}
		end = part.offset + part.size
	}
	if end != offset {
		return 0, fmt.Errorf("%w: offset %d, size %d", ErrOffsetBeyondEnd, offset, end)
	}

	written, err := s.objects.put(ctx, partKey(path, offset), content, size, "application/octet-stream")
	if err != nil {
		log.Error().Err(err).Str("path", path).Int64("offset", offset).Msg("failed to append chunk")
		return 0, fmt.Errorf("append to %q: %w", path, err)
	}

	log.Debug().
		Str("path", path).
		Int64("offset", offset).
		Int64("bytes_written", written).
		Msg("chunk appended")

	return written, nil
}

// Retrieve returns either the single object at path or the concatenated parts
func (s *S3Storage) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	if _, ok, err := s.objects.stat(ctx, path); err != nil {
		return nil, fmt.Errorf("stat object %q: %w", path, err)
	} else if ok {
		obj, err := s.objects.get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("get object %q: %w", path, err)
		}
		return obj, nil
	}

	parts, err := s.listParts(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	return &partReader{ctx: ctx, objects: s.objects, parts: parts}, nil
}

// Delete removes the object and every part below path
func (s *S3Storage) Delete(ctx context.Context, path string) error {
	if err := s.objects.remove(ctx, path); err != nil {
		return fmt.Errorf("remove object %q: %w", path, err)
	}

	parts, err := s.listParts(ctx, path)
	if err != nil {
		return err
	}
	for _, part := range parts {
		if err := s.objects.remove(ctx, part.key); err != nil {
			return fmt.Errorf("remove part %q: %w", part.key, err)
		}
	}

	log.Info().Str("path", path).Int("parts", len(parts)).Msg("file deleted successfully")
	return nil
}

// Exists reports whether an object or any part exists at path
func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	if _, ok, err := s.objects.stat(ctx, path); err != nil || ok {
		return ok, err
	}
	parts, err := s.listParts(ctx, path)
	if err != nil {
		return false, err
	}
	return len(parts) > 0, nil
}

// GetSize returns the object size or the summed part sizes
func (s *S3Storage) GetSize(ctx context.Context, path string) (int64, error) {
	if size, ok, err := s.objects.stat(ctx, path); err != nil {
		return 0, err
	} else if ok {
		return size, nil
	}

	parts, err := s.listParts(ctx, path)
	if err != nil {
		return 0, err
	}
	if len(parts) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	var size int64
	for _, part := range parts {
		size += part.size
	}
	return size, nil
}

// List returns blob paths below prefix, collapsing parts into their blob
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	objects, err := s.objects.list(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, obj := range objects {
		path := obj.key
		if blobPath, _, ok := parsePartKey(obj.key); ok {
			path = blobPath
		}
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// partReader streams parts one object at a time
type partReader struct {
	ctx     context.Context
	objects objectStore
	parts   []blobPart
	current io.ReadCloser
}

func (r *partReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if len(r.parts) == 0 {
				return 0, io.EOF
			}
			obj, err := r.objects.get(r.ctx, r.parts[0].key)
			if err != nil {
				return 0, fmt.Errorf("get part %q: %w", r.parts[0].key, err)
			}
			r.current = obj
			r.parts = r.parts[1:]
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *partReader) Close() error {
	if r.current != nil {
		return r.current.Close()
	}
	return nil
}
