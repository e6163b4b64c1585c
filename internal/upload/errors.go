package upload

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a protocol failure
type Kind string

const (
	KindForbidden           Kind = "Forbidden"
	KindNotFound            Kind = "NotFound"
	KindSessionExpired      Kind = "SessionExpired"
	KindAlreadyComplete     Kind = "AlreadyComplete"
	KindAlreadyFailed       Kind = "AlreadyFailed"
	KindMissingRangeHeader  Kind = "MissingRangeHeader"
	KindOffsetMismatch      Kind = "OffsetMismatch"
	KindChunkSizeMismatch   Kind = "ChunkSizeMismatch"
	KindSizeLimitExceeded   Kind = "SizeLimitExceeded"
	KindChecksumRequired    Kind = "ChecksumRequired"
	KindUnsupportedChecksum Kind = "UnsupportedChecksum"
	KindChecksumMismatch    Kind = "ChecksumMismatch"
	KindMalformedRequest    Kind = "MalformedRequest"
)

// Error is a request-local protocol failure. Anything that is not an *Error
// is an internal storage failure.
type Error struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail"`
	// Offset is the authoritative offset for OffsetMismatch
	Offset *int64 `json:"offset,omitempty"`
	// Members names the group members an aggregate failure is about
	Members []string `json:"members,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// StatusCode maps the kind onto the HTTP status the transport should use
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindSessionExpired:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

// NewError builds a protocol error
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func offsetMismatch(offset int64) *Error {
	err := NewError(KindOffsetMismatch, "Offsets do not match")
	err.Offset = &offset
	return err
}

// IsKind reports whether err is a protocol error of the given kind
func IsKind(err error, kind Kind) bool {
	var uploadErr *Error
	return errors.As(err, &uploadErr) && uploadErr.Kind == kind
}
