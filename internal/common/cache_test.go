package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_NilIsDisabled(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	assert.NoError(t, cache.Set(ctx, "key", "value", time.Minute))

	var dest string
	assert.ErrorIs(t, cache.Get(ctx, "key", &dest), ErrCacheMiss)
	assert.NoError(t, cache.Delete(ctx, "key"))
	assert.Nil(t, cache.Client())
	assert.NoError(t, cache.Close())
}
