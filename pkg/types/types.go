package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a custom type that can handle JSON serialization for both PostgreSQL and SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for GORM
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface for GORM
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// User represents a user in the system
type User struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"uniqueIndex;not null"`
	Email     string    `json:"email" gorm:"uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"not null"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	IsAdmin   bool      `json:"is_admin" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the user ID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// APIKey represents an API key for programmatic access
type APIKey struct {
	ID         uuid.UUID  `json:"id" gorm:"primaryKey"`
	UserID     uuid.UUID  `json:"user_id" gorm:"not null;index"`
	Name       string     `json:"name" gorm:"not null"`
	KeyHash    string     `json:"-" gorm:"not null;uniqueIndex"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	IsActive   bool       `json:"is_active" gorm:"default:true"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	User       User       `json:"-" gorm:"foreignKey:UserID"`
}

// BeforeCreate generates a UUID for the API key ID
func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// UploadStatus is the lifecycle state of an upload session
type UploadStatus string

const (
	StatusUploading UploadStatus = "uploading"
	StatusComplete  UploadStatus = "complete"
	StatusFailed    UploadStatus = "failed"
)

// Terminal reports whether no further appends or completions are accepted
func (s UploadStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// UploadGroup ties together the sessions of one multi-field submission.
// Its ID is the upload id the client sees.
type UploadGroup struct {
	ID        string     `json:"id" gorm:"primaryKey;size:32"`
	OwnerID   *uuid.UUID `json:"owner_id" gorm:"index"`
	CreatedAt time.Time  `json:"created_at"`
	Uploads   []Upload   `json:"uploads,omitempty" gorm:"foreignKey:GroupID"`
}

// Expired reports whether the group stopped accepting new fields at now
func (g *UploadGroup) Expired(ttl time.Duration, now time.Time) bool {
	return !g.CreatedAt.Add(ttl).After(now)
}

// Upload is a single in-progress or finished chunked upload
type Upload struct {
	ID              string       `json:"id" gorm:"primaryKey;size:32"`
	GroupID         *string      `json:"group_id,omitempty" gorm:"size:32;index"`
	OwnerID         *uuid.UUID   `json:"owner_id,omitempty" gorm:"index"`
	FieldName       string       `json:"field_name" gorm:"not null;default:''"`
	Filename        string       `json:"filename" gorm:"not null"`
	Offset          int64        `json:"offset" gorm:"column:byte_offset;not null;default:0"`
	Status          UploadStatus `json:"status" gorm:"size:16;not null;index"`
	ContentChecksum string       `json:"content_checksum,omitempty" gorm:"index"`
	Checksums       JSONMap      `json:"-" gorm:"type:text"`
	StoragePath     string       `json:"-" gorm:"not null"`
	Metadata        JSONMap      `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt       time.Time    `json:"created_at" gorm:"index"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// PublicID returns the id the client uses to resume: the group id for grouped uploads
func (u *Upload) PublicID() string {
	if u.GroupID != nil && *u.GroupID != "" {
		return *u.GroupID
	}
	return u.ID
}

// ExpiresAt returns the moment the upload stops accepting chunks
func (u *Upload) ExpiresAt(ttl time.Duration) time.Time {
	return u.CreatedAt.Add(ttl)
}

// Expired reports whether the upload is past its expiration at now
func (u *Upload) Expired(ttl time.Duration, now time.Time) bool {
	return !u.ExpiresAt(ttl).After(now)
}

// CachedChecksum returns a memoized digest for the algorithm
func (u *Upload) CachedChecksum(algorithm string) (string, bool) {
	if u.Checksums == nil {
		return "", false
	}
	value, ok := u.Checksums[algorithm].(string)
	return value, ok
}

// CacheChecksum memoizes a digest for the current offset
func (u *Upload) CacheChecksum(algorithm, digest string) {
	if u.Checksums == nil {
		u.Checksums = JSONMap{}
	}
	u.Checksums[algorithm] = digest
}

// ResetChecksums drops every memoized digest; called whenever the offset moves
func (u *Upload) ResetChecksums() {
	u.Checksums = nil
}

func (u *Upload) String() string {
	return fmt.Sprintf("<%s - upload_id: %s - bytes: %d - status: %s>", u.Filename, u.PublicID(), u.Offset, u.Status)
}

// File is a finished upload registered by the default completion handler
type File struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey"`
	UploadID    string     `json:"upload_id" gorm:"size:32;uniqueIndex"`
	GroupID     *string    `json:"group_id,omitempty" gorm:"size:32;index"`
	FieldName   string     `json:"field_name"`
	Name        string     `json:"name" gorm:"not null"`
	Size        int64      `json:"size"`
	SHA256      string     `json:"sha256" gorm:"index"`
	StoragePath string     `json:"-" gorm:"not null"`
	OwnerID     *uuid.UUID `json:"owner_id,omitempty" gorm:"index"`
	CreatedAt   time.Time  `json:"created_at"`
}

// BeforeCreate generates a UUID for the file ID
func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// UploadFilter for admin listing of uploads
type UploadFilter struct {
	Status  UploadStatus `json:"status"`
	Search  string       `json:"search"`
	OwnerID *uuid.UUID   `json:"owner_id"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// AuthToken represents a JWT token
type AuthToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    uuid.UUID `json:"user_id"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// APIKeyRequest represents a request to create an API key
type APIKeyRequest struct {
	Name      string         `json:"name" binding:"required"`
	ExpiresIn *time.Duration `json:"expires_in"`
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	APIResponse
	Pagination *PaginationInfo `json:"pagination,omitempty"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}
