package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload_PublicID(t *testing.T) {
	upload := &Upload{ID: "session"}
	assert.Equal(t, "session", upload.PublicID())

	group := "group"
	upload.GroupID = &group
	assert.Equal(t, "group", upload.PublicID())
}

func TestUpload_Expired(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	upload := &Upload{CreatedAt: created}

	assert.Equal(t, created.Add(time.Hour), upload.ExpiresAt(time.Hour))
	assert.False(t, upload.Expired(time.Hour, created.Add(59*time.Minute)))
	assert.True(t, upload.Expired(time.Hour, created.Add(time.Hour)))
	assert.True(t, upload.Expired(time.Hour, created.Add(2*time.Hour)))
}

func TestUpload_ChecksumCache(t *testing.T) {
	upload := &Upload{}

	_, ok := upload.CachedChecksum("md5")
	assert.False(t, ok)

	upload.CacheChecksum("md5", "abc")
	value, ok := upload.CachedChecksum("md5")
	assert.True(t, ok)
	assert.Equal(t, "abc", value)

	upload.ResetChecksums()
	_, ok = upload.CachedChecksum("md5")
	assert.False(t, ok)
}

func TestUploadStatus_Terminal(t *testing.T) {
	assert.False(t, StatusUploading.Terminal())
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestJSONMap_ValueScan(t *testing.T) {
	original := JSONMap{"sha256": "deadbeef"}

	value, err := original.Value()
	require.NoError(t, err)

	var scanned JSONMap
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, "deadbeef", scanned["sha256"])

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	assert.Error(t, scanned.Scan(42))
}
