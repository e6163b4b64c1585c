package routes

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lgulliver/chunkup/internal/auth"
	"github.com/lgulliver/chunkup/internal/checksum"
	"github.com/lgulliver/chunkup/internal/common"
	"github.com/lgulliver/chunkup/internal/files"
	"github.com/lgulliver/chunkup/internal/session"
	"github.com/lgulliver/chunkup/internal/storage"
	"github.com/lgulliver/chunkup/internal/sweeper"
	"github.com/lgulliver/chunkup/internal/upload"
	"github.com/lgulliver/chunkup/pkg/config"
	"github.com/lgulliver/chunkup/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAuthService mocks the auth service for testing
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) ValidateToken(ctx context.Context, token string) (*types.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockAuthService) ValidateAPIKey(ctx context.Context, apiKey string) (*types.User, *types.APIKey, error) {
	args := m.Called(ctx, apiKey)
	var user *types.User
	var key *types.APIKey
	if args.Get(0) != nil {
		user = args.Get(0).(*types.User)
	}
	if args.Get(1) != nil {
		key = args.Get(1).(*types.APIKey)
	}
	return user, key, args.Error(2)
}

func (m *MockAuthService) Register(ctx context.Context, req *types.RegisterRequest) (*types.User, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockAuthService) Login(ctx context.Context, req *types.LoginRequest) (*types.AuthToken, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.AuthToken), args.Error(1)
}

func (m *MockAuthService) CreateAPIKey(ctx context.Context, userID uuid.UUID, name string, expiresIn *time.Duration) (*types.APIKey, string, error) {
	args := m.Called(ctx, userID, name, expiresIn)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(*types.APIKey), args.String(1), args.Error(2)
}

func (m *MockAuthService) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*types.APIKey, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]*types.APIKey), args.Error(1)
}

func (m *MockAuthService) RevokeAPIKey(ctx context.Context, keyID uuid.UUID, userID uuid.UUID) error {
	args := m.Called(ctx, keyID, userID)
	return args.Error(0)
}

func (m *MockAuthService) GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.User), args.Error(1)
}

func (m *MockAuthService) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	args := m.Called(ctx, userID, active)
	return args.Error(0)
}

type testServer struct {
	router *gin.Engine
	store  *session.GormStore
	auth   *MockAuthService
	alice  *types.User
	admin  *types.User
}

func setupTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	db, err := common.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(dir, "gateway.db")})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	blobs, err := storage.NewLocalStorage(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	store := session.NewGormStore(db)
	locker := common.NewKeyedMutex()
	registrar := files.NewRegistrar(db, blobs)

	uploads := upload.NewService(store, blobs, locker, upload.Options{
		ExpirationDelta:    time.Hour,
		ChecksumCheck:      true,
		SupportedChecksums: []checksum.Algorithm{checksum.MD5, checksum.SHA256},
		OwnerScoped:        true,
		Permission:         func(ctx context.Context, owner *uuid.UUID) bool { return owner != nil },
		OnCompletion:       registrar,
	})

	alice := &types.User{ID: uuid.New(), Username: "alice"}
	admin := &types.User{ID: uuid.New(), Username: "root", IsAdmin: true}
	mockAuth := new(MockAuthService)
	mockAuth.On("ValidateToken", mock.Anything, "alice-token").Return(alice, nil)
	mockAuth.On("ValidateToken", mock.Anything, "admin-token").Return(admin, nil)

	router := gin.New()
	api := router.Group("/api/v1")
	UploadRoutes(api, uploads, mockAuth, ">= 1.0.0, < 2.0.0")
	FileRoutes(api, registrar, mockAuth)
	AdminRoutes(api, uploads, sweeper.New(store, blobs, locker, time.Hour), mockAuth)

	return &testServer{router: router, store: store, auth: mockAuth, alice: alice, admin: admin}
}

func (s *testServer) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func chunkRequest(t *testing.T, fields map[string]string, chunk, contentRange string) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	part, err := writer.CreateFormFile("file", "numbers.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte(chunk))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if contentRange != "" {
		req.Header.Set("Content-Range", contentRange)
	}
	return req
}

func completeRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/complete", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// startUpload sends the first chunk of "0123456789" and returns the upload id
func (s *testServer) startUpload(t *testing.T) string {
	w := s.do(chunkRequest(t, map[string]string{"checksum": "whole-file-sum"}, "0123", "bytes 0-3/10"), "alice-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result upload.Result
	decode(t, w, &result)
	assert.Equal(t, int64(4), result.Offset)
	assert.Len(t, result.UploadID, 32)
	return result.UploadID
}

func TestUploadFlow(t *testing.T) {
	s := setupTestServer(t)
	id := s.startUpload(t)

	w := s.do(chunkRequest(t, map[string]string{"upload_id": id}, "456789", "bytes 4-9/10"), "alice-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result upload.Result
	decode(t, w, &result)
	assert.Equal(t, int64(10), result.Offset)

	w = s.do(completeRequest(url.Values{"upload_id": {id}, "md5": {md5Hex("0123456789")}}), "alice-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &result)
	assert.Equal(t, types.StatusComplete, result.Status)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/files/"+id+"/content", nil), "alice-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "numbers.txt")

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/files", nil), "alice-token")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data       []types.File         `json:"data"`
		Pagination types.PaginationInfo `json:"pagination"`
	}
	decode(t, w, &list)
	require.Len(t, list.Data, 1)
	assert.Equal(t, int64(10), list.Data[0].Size)
}

func TestAppendChunk_Errors(t *testing.T) {
	s := setupTestServer(t)
	id := s.startUpload(t)

	tests := []struct {
		name     string
		req      *http.Request
		token    string
		expected int
		kind     upload.Kind
	}{
		{
			name:     "anonymous caller",
			req:      chunkRequest(t, nil, "0123", "bytes 0-3/10"),
			expected: http.StatusForbidden,
			kind:     upload.KindForbidden,
		},
		{
			name:     "wrong offset",
			req:      chunkRequest(t, map[string]string{"upload_id": id}, "0123", "bytes 0-3/10"),
			token:    "alice-token",
			expected: http.StatusBadRequest,
			kind:     upload.KindOffsetMismatch,
		},
		{
			name:     "unknown upload",
			req:      chunkRequest(t, map[string]string{"upload_id": strings.Repeat("0", 32)}, "4567", "bytes 4-7/10"),
			token:    "alice-token",
			expected: http.StatusNotFound,
			kind:     upload.KindNotFound,
		},
		{
			name:     "malformed range",
			req:      chunkRequest(t, map[string]string{"upload_id": id}, "4567", "bytes=4-7"),
			token:    "alice-token",
			expected: http.StatusBadRequest,
			kind:     upload.KindMalformedRequest,
		},
		{
			name: "no file part",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", strings.NewReader("upload_id="+id))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			}(),
			token:    "alice-token",
			expected: http.StatusBadRequest,
			kind:     upload.KindMalformedRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.req, tt.token)
			assert.Equal(t, tt.expected, w.Code, w.Body.String())

			var uploadErr upload.Error
			decode(t, w, &uploadErr)
			assert.Equal(t, tt.kind, uploadErr.Kind)
			if tt.kind == upload.KindOffsetMismatch {
				require.NotNil(t, uploadErr.Offset)
				assert.Equal(t, int64(4), *uploadErr.Offset)
			}
		})
	}
}

func TestComplete_ChecksumMismatch(t *testing.T) {
	s := setupTestServer(t)
	id := s.startUpload(t)

	w := s.do(completeRequest(url.Values{"upload_id": {id}, "md5": {md5Hex("something else")}}), "alice-token")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var uploadErr upload.Error
	decode(t, w, &uploadErr)
	assert.Equal(t, upload.KindChecksumMismatch, uploadErr.Kind)

	// the upload is failed for good
	w = s.do(chunkRequest(t, map[string]string{"upload_id": id}, "456789", "bytes 4-9/10"), "alice-token")
	decode(t, w, &uploadErr)
	assert.Equal(t, upload.KindAlreadyFailed, uploadErr.Kind)
}

func TestComplete_MissingClaim(t *testing.T) {
	s := setupTestServer(t)
	id := s.startUpload(t)

	w := s.do(completeRequest(url.Values{"upload_id": {id}}), "alice-token")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var uploadErr upload.Error
	decode(t, w, &uploadErr)
	assert.Equal(t, upload.KindChecksumRequired, uploadErr.Kind)
}

func TestStatusResumeAndDelete(t *testing.T) {
	s := setupTestServer(t)
	id := s.startUpload(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/uploads/"+id, nil), "alice-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var status struct {
		UploadID string `json:"upload_id"`
		Offset   int64  `json:"offset"`
		Sessions []struct {
			Status types.UploadStatus `json:"status"`
		} `json:"sessions"`
	}
	decode(t, w, &status)
	assert.Equal(t, id, status.UploadID)
	assert.Equal(t, int64(4), status.Offset)
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, types.StatusUploading, status.Sessions[0].Status)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/uploads/resume?checksum=whole-file-sum", nil), "alice-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resumed upload.Result
	decode(t, w, &resumed)
	assert.Equal(t, id, resumed.UploadID)
	assert.Equal(t, int64(4), resumed.Offset)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/uploads/resume?checksum=unknown", nil), "alice-token")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// another owner cannot see it
	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/uploads/"+id, nil), "admin-token")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/v1/uploads/"+id, nil), "alice-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/uploads/"+id, nil), "alice-token")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProtocolVersionRejected(t *testing.T) {
	s := setupTestServer(t)

	req := chunkRequest(t, nil, "0123", "bytes 0-3/10")
	req.Header.Set("X-Upload-Protocol", "3.0.0")
	w := s.do(req, "alice-token")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := setupTestServer(t)
	s.startUpload(t)
	s.startUpload(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/uploads", nil), "alice-token")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/uploads?status=uploading&per_page=1", nil), "admin-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Data       []types.Upload       `json:"data"`
		Pagination types.PaginationInfo `json:"pagination"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Data, 1)
	assert.Equal(t, int64(2), list.Pagination.Total)
	assert.Equal(t, 2, list.Pagination.TotalPages)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/uploads?status=bogus", nil), "admin-token")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// nothing has expired yet
	w = s.do(httptest.NewRequest(http.MethodPost, "/api/v1/admin/uploads/sweep", nil), "admin-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"deleted":0`)
	assert.Contains(t, w.Body.String(), `"orphans":0`)
}

func TestAdminUserRoutes(t *testing.T) {
	s := setupTestServer(t)
	missing := uuid.New()
	s.auth.On("GetUserByID", mock.Anything, s.alice.ID).Return(s.alice, nil)
	s.auth.On("GetUserByID", mock.Anything, missing).Return(nil, auth.ErrUserNotFound)
	s.auth.On("SetActive", mock.Anything, s.alice.ID, false).Return(nil)
	s.auth.On("SetActive", mock.Anything, missing, true).Return(auth.ErrUserNotFound)

	w := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/"+s.alice.ID.String(), nil), "alice-token")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/"+s.alice.ID.String(), nil), "admin-token")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"username":"alice"`)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/"+missing.String(), nil), "admin-token")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/not-a-uuid", nil), "admin-token")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	activate := func(id uuid.UUID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/admin/users/"+id.String()+"/active", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return s.do(req, "admin-token")
	}

	w = activate(s.alice.ID, `{"active": false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"active":false`)

	assert.Equal(t, http.StatusNotFound, activate(missing, `{"active": true}`).Code)
	assert.Equal(t, http.StatusBadRequest, activate(s.alice.ID, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, activate(s.admin.ID, `{"active": false}`).Code)

	s.auth.AssertCalled(t, "SetActive", mock.Anything, s.alice.ID, false)
	s.auth.AssertNotCalled(t, "SetActive", mock.Anything, s.admin.ID, false)
}
