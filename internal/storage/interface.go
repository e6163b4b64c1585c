package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when no blob exists at a path
	ErrNotFound = errors.New("blob not found")

	// ErrOffsetBeyondEnd is returned when an append would leave a gap in the blob
	ErrOffsetBeyondEnd = errors.New("append offset is beyond the end of the blob")
)

// BlobStorage defines the interface for upload blob storage
type BlobStorage interface {
	// Store saves complete content at the given path, replacing any previous content.
	// size is the content length, or -1 when unknown.
	Store(ctx context.Context, path string, content io.Reader, size int64, contentType string) error

	// Create makes an empty blob at the given path
	Create(ctx context.Context, path string) error

	// Append writes content starting at offset and returns the bytes written.
	// size is the content length, or -1 when unknown. Bytes previously stored
	// at or past offset are discarded. The write is durable when Append
	// returns without error.
	Append(ctx context.Context, path string, offset int64, content io.Reader, size int64) (int64, error)

	// Retrieve gets the full content at the given path
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes content at the given path. Deleting a missing blob is not an error.
	Delete(ctx context.Context, path string) error

	// Exists checks if content exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// GetSize returns the size of content at the given path
	GetSize(ctx context.Context, path string) (int64, error)

	// List returns paths matching the prefix
	List(ctx context.Context, prefix string) ([]string, error)
}
