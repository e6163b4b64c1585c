package types

import (
	"time"

	pkgtypes "github.com/lgulliver/chunkup/pkg/types"
)

// ErrorResponse is returned for failures outside the upload protocol
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// MessageResponse acknowledges an operation with no payload
type MessageResponse struct {
	Message string `json:"message"`
}

// SessionStatus describes one session of an upload
type SessionStatus struct {
	SessionID   string                `json:"session_id"`
	FieldName   string                `json:"field_name,omitempty"`
	Filename    string                `json:"filename"`
	Offset      int64                 `json:"offset"`
	Status      pkgtypes.UploadStatus `json:"status"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

// StatusResponse lets a client resynchronise with the server's view of an upload
type StatusResponse struct {
	UploadID  string          `json:"upload_id"`
	Offset    int64           `json:"offset"`
	ExpiresAt time.Time       `json:"expires_at"`
	Sessions  []SessionStatus `json:"sessions"`
}

// HealthStatus reports the state of the service and its dependencies
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}
