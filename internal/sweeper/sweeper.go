package sweeper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/internal/session"
	"github.com/lgulliver/chunkup/internal/storage"
	"github.com/lgulliver/chunkup/internal/upload"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/lgulliver/chunkup/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Confirmer approves each deletion
type Confirmer interface {
	Confirm(upload *types.Upload) (bool, error)
}

// PromptConfirmer asks on Out and reads y/n answers from In until it gets one
type PromptConfirmer struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewPromptConfirmer creates a confirmer reading answers line by line
func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{scanner: bufio.NewScanner(in), out: out}
}

func (p *PromptConfirmer) Confirm(u *types.Upload) (bool, error) {
	prompt := fmt.Sprintf("Do you want to delete %s? (y/n): ", u)
	for {
		fmt.Fprint(p.out, prompt)
		if !p.scanner.Scan() {
			if err := p.scanner.Err(); err != nil {
				return false, err
			}
			return false, io.ErrUnexpectedEOF
		}
		switch strings.ToLower(strings.TrimSpace(p.scanner.Text())) {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
	}
}

// Failure is one upload that could not be deleted
type Failure struct {
	UploadID string
	Err      error
}

// Report summarizes one sweep
type Report struct {
	Deleted map[types.UploadStatus]int
	Skipped int
	// Orphans counts blobs deleted because no upload record pointed at them
	Orphans    int
	FreedBytes int64
	Failures   []Failure
}

// Total is the number of uploads deleted
func (r *Report) Total() int {
	total := 0
	for _, n := range r.Deleted {
		total += n
	}
	return total
}

// Sweeper deletes uploads older than the expiration delta
type Sweeper struct {
	store     session.Store
	blobs     storage.BlobStorage
	locker    common.Locker
	ttl       time.Duration
	grace     time.Duration
	orphans   string
	confirmer Confirmer
	now       func() time.Time
}

// New creates a sweeper for uploads older than ttl
func New(store session.Store, blobs storage.BlobStorage, locker common.Locker, ttl time.Duration) *Sweeper {
	return &Sweeper{
		store:  store,
		blobs:  blobs,
		locker: locker,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithConfirmer asks confirmer before every deletion
func (s *Sweeper) WithConfirmer(confirmer Confirmer) *Sweeper {
	s.confirmer = confirmer
	return s
}

// WithGracePeriod keeps uploads for grace past their expiry. A chunk accepted
// just before expiry can then finish writing before the upload is deleted.
func (s *Sweeper) WithGracePeriod(grace time.Duration) *Sweeper {
	s.grace = grace
	return s
}

// WithOrphans also deletes blobs below prefix that no upload record points at.
// An empty prefix disables it, and sweeps with a confirmer skip it.
func (s *Sweeper) WithOrphans(prefix string) *Sweeper {
	s.orphans = prefix
	return s
}

// Sweep deletes every expired upload, blob before record. Per-upload failures
// are collected in the report and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	cutoff := s.now().Add(-s.ttl - s.grace)
	expired, err := s.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired uploads: %w", err)
	}

	report := &Report{Deleted: make(map[types.UploadStatus]int)}
	for i := range expired {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		status, freed, deleted, err := s.sweepOne(ctx, expired[i].ID)
		switch {
		case err != nil:
			log.Error().Err(err).Str("session_id", expired[i].ID).Msg("failed to delete expired upload")
			report.Failures = append(report.Failures, Failure{UploadID: expired[i].ID, Err: err})
		case deleted:
			report.Deleted[status]++
			report.FreedBytes += freed
		default:
			report.Skipped++
		}
	}

	if s.orphans != "" && s.confirmer == nil {
		if err := s.sweepOrphans(ctx, report); err != nil {
			return report, err
		}
	}

	log.Info().
		Int("deleted", report.Total()).
		Int("complete", report.Deleted[types.StatusComplete]).
		Int("incomplete", report.Deleted[types.StatusUploading]).
		Int("failed", report.Deleted[types.StatusFailed]).
		Int("skipped", report.Skipped).
		Int("orphans", report.Orphans).
		Int64("freed_bytes", report.FreedBytes).
		Int("errors", len(report.Failures)).
		Msg("expired upload sweep finished")

	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, id string) (types.UploadStatus, int64, bool, error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to lock upload: %w", err)
	}
	defer unlock()

	// reload under the lock; another request may have deleted it meanwhile
	current, err := s.store.Get(ctx, id, session.Unscoped())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", 0, false, nil
		}
		return "", 0, false, err
	}

	if s.confirmer != nil {
		ok, err := s.confirmer.Confirm(current)
		if err != nil {
			return "", 0, false, fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			return "", 0, false, nil
		}
	}

	size, err := s.blobs.GetSize(ctx, current.StoragePath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", 0, false, fmt.Errorf("failed to size blob: %w", err)
	}

	if err := upload.Remove(ctx, s.store, s.blobs, current); err != nil {
		return "", 0, false, err
	}

	log.Debug().Str("session_id", id).Str("status", string(current.Status)).Int64("size", size).Msg("expired upload deleted")
	return current.Status, size, true, nil
}

// sweepOrphans deletes upload blobs whose record is gone, such as those left
// by a crash between writing the first chunk and saving the record
func (s *Sweeper) sweepOrphans(ctx context.Context, report *Report) error {
	paths, err := s.blobs.List(ctx, s.orphans)
	if err != nil {
		return fmt.Errorf("failed to list upload blobs: %w", err)
	}

	for _, blobPath := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		id, ok := blobUploadID(blobPath)
		if !ok {
			continue
		}
		freed, deleted, err := s.sweepOrphan(ctx, id, blobPath)
		switch {
		case err != nil:
			log.Error().Err(err).Str("path", blobPath).Msg("failed to delete orphaned blob")
			report.Failures = append(report.Failures, Failure{UploadID: id, Err: err})
		case deleted:
			report.Orphans++
			report.FreedBytes += freed
		}
	}
	return nil
}

func (s *Sweeper) sweepOrphan(ctx context.Context, id, blobPath string) (int64, bool, error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to lock upload: %w", err)
	}
	defer unlock()

	if _, err := s.store.Get(ctx, id, session.Unscoped()); err == nil {
		return 0, false, nil
	} else if !errors.Is(err, session.ErrNotFound) {
		return 0, false, err
	}

	exists, err := s.blobs.Exists(ctx, blobPath)
	if err != nil || !exists {
		return 0, false, err
	}
	size, err := s.blobs.GetSize(ctx, blobPath)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, false, err
	}
	if err := s.blobs.Delete(ctx, blobPath); err != nil {
		return 0, false, err
	}

	log.Debug().Str("session_id", id).Str("path", blobPath).Int64("size", size).Msg("orphaned blob deleted")
	return size, true, nil
}

// blobUploadID extracts the session id from an in-progress blob path
func blobUploadID(blobPath string) (string, bool) {
	id, ok := strings.CutSuffix(path.Base(blobPath), ".part")
	if !ok || !utils.IsUploadID(id) {
		return "", false
	}
	return id, true
}

// Run sweeps every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Dur("ttl", s.ttl).Msg("expired upload sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expired upload sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("expired upload sweep failed")
			}
		}
	}
}
