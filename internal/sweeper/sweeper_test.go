package sweeper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/internal/session"
	"github.com/lgulliver/chunkup/internal/storage"
	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/lgulliver/chunkup/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSweeper(t *testing.T) (*session.GormStore, *storage.LocalStorage) {
	dir := t.TempDir()
	db, err := common.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "sweep.db")})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	blobs, err := storage.NewLocalStorage(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	return session.NewGormStore(db), blobs
}

func seedUpload(t *testing.T, store *session.GormStore, blobs *storage.LocalStorage, age time.Duration, status types.UploadStatus, withBlob bool) *types.Upload {
	ctx := context.Background()
	id := utils.GenerateUploadID()
	u := &types.Upload{
		ID:          id,
		Filename:    id + ".bin",
		Status:      status,
		StoragePath: "chunked_uploads/" + id + ".part",
		CreatedAt:   time.Now().UTC().Add(-age),
	}
	if withBlob {
		n, err := blobs.Append(ctx, u.StoragePath, 0, strings.NewReader("content"), 7)
		require.NoError(t, err)
		u.Offset = n
	}
	require.NoError(t, store.Create(ctx, u))
	return u
}

func blobExists(t *testing.T, blobs storage.BlobStorage, path string) bool {
	exists, err := blobs.Exists(context.Background(), path)
	require.NoError(t, err)
	return exists
}

func TestSweep_DeletesOnlyExpired(t *testing.T) {
	store, blobs := setupSweeper(t)
	ctx := context.Background()

	old := seedUpload(t, store, blobs, 2*time.Hour, types.StatusUploading, true)
	young := seedUpload(t, store, blobs, 30*time.Minute, types.StatusUploading, true)

	report, err := New(store, blobs, common.NewKeyedMutex(), time.Hour).Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total())
	assert.Equal(t, 1, report.Deleted[types.StatusUploading])
	assert.Equal(t, int64(7), report.FreedBytes)
	assert.Empty(t, report.Failures)

	_, err = store.Get(ctx, old.ID, session.Unscoped())
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.False(t, blobExists(t, blobs, old.StoragePath))

	kept, err := store.Get(ctx, young.ID, session.Unscoped())
	require.NoError(t, err)
	assert.Equal(t, young.Offset, kept.Offset)
	assert.True(t, blobExists(t, blobs, young.StoragePath))
}

func TestSweep_CountsPerStatusAndToleratesMissingBlob(t *testing.T) {
	store, blobs := setupSweeper(t)
	ctx := context.Background()

	seedUpload(t, store, blobs, 48*time.Hour, types.StatusComplete, true)
	seedUpload(t, store, blobs, 48*time.Hour, types.StatusFailed, true)
	orphan := seedUpload(t, store, blobs, 48*time.Hour, types.StatusUploading, false)

	report, err := New(store, blobs, common.NewKeyedMutex(), 24*time.Hour).Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted[types.StatusComplete])
	assert.Equal(t, 1, report.Deleted[types.StatusFailed])
	assert.Equal(t, 1, report.Deleted[types.StatusUploading])
	assert.Equal(t, int64(14), report.FreedBytes)
	assert.Empty(t, report.Failures)

	_, err = store.Get(ctx, orphan.ID, session.Unscoped())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSweep_GracePeriod(t *testing.T) {
	store, blobs := setupSweeper(t)
	ctx := context.Background()

	finishing := seedUpload(t, store, blobs, 70*time.Minute, types.StatusUploading, true)
	stale := seedUpload(t, store, blobs, 80*time.Minute, types.StatusUploading, true)

	report, err := New(store, blobs, common.NewKeyedMutex(), time.Hour).WithGracePeriod(15 * time.Minute).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total())

	_, err = store.Get(ctx, finishing.ID, session.Unscoped())
	assert.NoError(t, err)
	assert.True(t, blobExists(t, blobs, finishing.StoragePath))

	_, err = store.Get(ctx, stale.ID, session.Unscoped())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSweep_Orphans(t *testing.T) {
	store, blobs := setupSweeper(t)
	ctx := context.Background()

	live := seedUpload(t, store, blobs, 10*time.Minute, types.StatusUploading, true)

	orphan := "chunked_uploads/2024/05/01/" + utils.GenerateUploadID() + ".part"
	_, err := blobs.Append(ctx, orphan, 0, strings.NewReader("leftover"), 8)
	require.NoError(t, err)
	require.NoError(t, blobs.Store(ctx, "chunked_uploads/notes.txt", strings.NewReader("keep"), 4, "text/plain"))
	outside := "files/" + utils.GenerateUploadID() + ".part"
	require.NoError(t, blobs.Store(ctx, outside, strings.NewReader("keep"), 4, "text/plain"))

	report, err := New(store, blobs, common.NewKeyedMutex(), time.Hour).WithOrphans("chunked_uploads").Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Total())
	assert.Equal(t, 1, report.Orphans)
	assert.Equal(t, int64(8), report.FreedBytes)
	assert.Empty(t, report.Failures)

	assert.False(t, blobExists(t, blobs, orphan))
	assert.True(t, blobExists(t, blobs, live.StoragePath))
	assert.True(t, blobExists(t, blobs, "chunked_uploads/notes.txt"))
	assert.True(t, blobExists(t, blobs, outside))
}

func TestSweep_OrphanWaitsForUploadLock(t *testing.T) {
	store, blobs := setupSweeper(t)
	ctx := context.Background()
	locker := common.NewKeyedMutex()

	id := utils.GenerateUploadID()
	blobPath := "chunked_uploads/" + id + ".part"
	_, err := blobs.Append(ctx, blobPath, 0, strings.NewReader("content"), 7)
	require.NoError(t, err)

	// the blob of an upload still being created is locked until its record exists
	unlock, err := locker.Lock(ctx, id)
	require.NoError(t, err)

	done := make(chan *Report)
	go func() {
		report, _ := New(store, blobs, locker, time.Hour).WithOrphans("chunked_uploads").Sweep(ctx)
		done <- report
	}()

	require.NoError(t, store.Create(ctx, &types.Upload{
		ID:          id,
		Filename:    "fresh.bin",
		Status:      types.StatusUploading,
		StoragePath: blobPath,
		Offset:      7,
		CreatedAt:   time.Now().UTC(),
	}))
	unlock()

	report := <-done
	require.NotNil(t, report)
	assert.Equal(t, 0, report.Orphans)
	assert.True(t, blobExists(t, blobs, blobPath))
}

type stubConfirmer struct {
	answers map[string]bool
	asked   []string
}

func (c *stubConfirmer) Confirm(u *types.Upload) (bool, error) {
	c.asked = append(c.asked, u.ID)
	return c.answers[u.ID], nil
}

func TestSweep_Confirmation(t *testing.T) {
	store, blobs := setupSweeper(t)
	ctx := context.Background()

	keep := seedUpload(t, store, blobs, 2*time.Hour, types.StatusUploading, true)
	drop := seedUpload(t, store, blobs, 3*time.Hour, types.StatusComplete, true)

	confirmer := &stubConfirmer{answers: map[string]bool{drop.ID: true}}
	report, err := New(store, blobs, common.NewKeyedMutex(), time.Hour).WithConfirmer(confirmer).Sweep(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{keep.ID, drop.ID}, confirmer.asked)
	assert.Equal(t, 1, report.Total())
	assert.Equal(t, 1, report.Skipped)

	_, err = store.Get(ctx, keep.ID, session.Unscoped())
	assert.NoError(t, err)
	assert.True(t, blobExists(t, blobs, keep.StoragePath))
}

// flakyBlobs fails deletes for one path
type flakyBlobs struct {
	storage.BlobStorage
	failPath string
}

func (f *flakyBlobs) Delete(ctx context.Context, path string) error {
	if path == f.failPath {
		return errors.New("disk on fire")
	}
	return f.BlobStorage.Delete(ctx, path)
}

func TestSweep_FailureDoesNotAbort(t *testing.T) {
	store, blobs := setupSweeper(t)
	ctx := context.Background()

	stuck := seedUpload(t, store, blobs, 3*time.Hour, types.StatusUploading, true)
	other := seedUpload(t, store, blobs, 2*time.Hour, types.StatusUploading, true)

	report, err := New(store, &flakyBlobs{BlobStorage: blobs, failPath: stuck.StoragePath}, common.NewKeyedMutex(), time.Hour).Sweep(ctx)
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, stuck.ID, report.Failures[0].UploadID)
	assert.Equal(t, 1, report.Total())

	// the record stays while its blob could not be removed
	_, err = store.Get(ctx, stuck.ID, session.Unscoped())
	assert.NoError(t, err)
	_, err = store.Get(ctx, other.ID, session.Unscoped())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestPromptConfirmer(t *testing.T) {
	u := &types.Upload{ID: "abc", Filename: "movie.mp4", Status: types.StatusUploading}

	var out bytes.Buffer
	confirmer := NewPromptConfirmer(strings.NewReader("maybe\nY\nn\n"), &out)

	ok, err := confirmer.Confirm(u)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, strings.Count(out.String(), "Do you want to delete <movie.mp4 - upload_id: abc"))

	ok, err = confirmer.Confirm(u)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = confirmer.Confirm(u)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRun_StopsOnCancel(t *testing.T) {
	store, blobs := setupSweeper(t)
	seedUpload(t, store, blobs, 2*time.Hour, types.StatusUploading, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(store, blobs, common.NewKeyedMutex(), time.Hour).Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		uploads, err := store.ListOlderThan(context.Background(), time.Now().UTC())
		return err == nil && len(uploads) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
