package upload

import (
	"context"
	"time"

	"github.com/lgulliver/chunkup/internal/session"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/stretchr/testify/mock"
)

// mockStore fails the test on any call that was not expected
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Create(ctx context.Context, upload *types.Upload) error {
	args := m.Called(ctx, upload)
	return args.Error(0)
}

func (m *mockStore) CreateGroup(ctx context.Context, group *types.UploadGroup) error {
	args := m.Called(ctx, group)
	return args.Error(0)
}

func (m *mockStore) Get(ctx context.Context, id string, scope session.Scope) (*types.Upload, error) {
	args := m.Called(ctx, id, scope)
	if upload := args.Get(0); upload != nil {
		return upload.(*types.Upload), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GetGroup(ctx context.Context, id string, scope session.Scope) (*types.UploadGroup, error) {
	args := m.Called(ctx, id, scope)
	if group := args.Get(0); group != nil {
		return group.(*types.UploadGroup), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) GroupMembers(ctx context.Context, groupID string) ([]types.Upload, error) {
	args := m.Called(ctx, groupID)
	return args.Get(0).([]types.Upload), args.Error(1)
}

func (m *mockStore) FindByChecksum(ctx context.Context, checksum string, scope session.Scope, notBefore time.Time) (*types.Upload, error) {
	args := m.Called(ctx, checksum, scope, notBefore)
	if upload := args.Get(0); upload != nil {
		return upload.(*types.Upload), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]types.Upload, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]types.Upload), args.Error(1)
}

func (m *mockStore) List(ctx context.Context, filter *types.UploadFilter) ([]types.Upload, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]types.Upload), args.Get(1).(int64), args.Error(2)
}

func (m *mockStore) Update(ctx context.Context, upload *types.Upload, expectedOffset int64) error {
	args := m.Called(ctx, upload, expectedOffset)
	return args.Error(0)
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
