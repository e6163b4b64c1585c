package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageFactory_CreateLocalStorage(t *testing.T) {
	for _, storageType := range []string{"local", ""} {
		t.Run("type="+storageType, func(t *testing.T) {
			factory := NewStorageFactory(&config.StorageConfig{
				Type:      storageType,
				LocalPath: t.TempDir(),
			})

			storage, err := factory.CreateStorage()
			require.NoError(t, err)
			require.IsType(t, &LocalStorage{}, storage)

			ctx := context.Background()
			require.NoError(t, storage.Create(ctx, "factory"))
			_, err = storage.Append(ctx, "factory", 0, strings.NewReader("content"), 7)
			require.NoError(t, err)

			size, err := storage.GetSize(ctx, "factory")
			require.NoError(t, err)
			assert.Equal(t, int64(7), size)
		})
	}
}

func TestStorageFactory_UnsupportedType(t *testing.T) {
	factory := NewStorageFactory(&config.StorageConfig{Type: "gcs"})
	storage, err := factory.CreateStorage()

	assert.Error(t, err)
	assert.Nil(t, storage)
	assert.Contains(t, err.Error(), "unsupported storage type")
}
