package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestHashPassword(t *testing.T) {
	password := "testpassword"

	hash, err := HashPassword(password, 10)
	if err != nil {
		t.Errorf("HashPassword() error = %v", err)
		return
	}

	if len(hash) == 0 {
		t.Error("HashPassword() returned empty hash")
	}

	// Test that the same password produces different hashes (salt)
	hash2, err := HashPassword(password, 10)
	if err != nil {
		t.Errorf("HashPassword() error = %v", err)
		return
	}

	if hash == hash2 {
		t.Error("HashPassword() should produce different hashes due to salt")
	}
}

func TestCheckPassword(t *testing.T) {
	password := "testpassword"
	wrongPassword := "wrongpassword"

	hash, err := HashPassword(password, 10)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
	}{
		{
			name:     "correct password",
			password: password,
			hash:     hash,
			want:     true,
		},
		{
			name:     "wrong password",
			password: wrongPassword,
			hash:     hash,
			want:     false,
		},
		{
			name:     "empty password",
			password: "",
			hash:     hash,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckPassword(tt.password, tt.hash); got != tt.want {
				t.Errorf("CheckPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain name",
			input: "report.pdf",
			want:  "report.pdf",
		},
		{
			name:  "unix path",
			input: "../../etc/passwd",
			want:  "passwd",
		},
		{
			name:  "windows path",
			input: "C:\\Users\\me\\video.mp4",
			want:  "video.mp4",
		},
		{
			name:  "control characters",
			input: "bad\x00name.txt",
			want:  "badname.txt",
		},
		{
			name:  "empty",
			input: "",
			want:  "upload",
		},
		{
			name:  "dot dot",
			input: "..",
			want:  "upload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFilename(tt.input); got != tt.want {
				t.Errorf("SanitizeFilename() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateUploadID(t *testing.T) {
	id := GenerateUploadID()
	if len(id) != 32 {
		t.Errorf("GenerateUploadID() length = %d, want 32", len(id))
	}
	if id == GenerateUploadID() {
		t.Error("GenerateUploadID() should produce unique ids")
	}
}

func TestIsUploadID(t *testing.T) {
	if !IsUploadID(GenerateUploadID()) {
		t.Error("IsUploadID() rejected a generated id")
	}
	for _, id := range []string{"", "abc", "zz0123456789abcdef0123456789abcd", GenerateUploadID() + "0"} {
		if IsUploadID(id) {
			t.Errorf("IsUploadID(%q) = true, want false", id)
		}
	}
}

func TestJWTRoundTrip(t *testing.T) {
	userID := uuid.New()

	token, err := GenerateJWT(userID, "secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT() error = %v", err)
	}

	got, err := ValidateJWT(token, "secret")
	if err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}
	if got != userID {
		t.Errorf("ValidateJWT() = %v, want %v", got, userID)
	}

	if _, err := ValidateJWT(token, "other-secret"); err == nil {
		t.Error("ValidateJWT() should reject a token signed with another secret")
	}
}

func TestCheckProtocolVersion(t *testing.T) {
	tests := []struct {
		name       string
		version    string
		constraint string
		want       bool
		wantErr    bool
	}{
		{name: "satisfied", version: "1.2.0", constraint: ">= 1.0.0, < 2.0.0", want: true},
		{name: "too new", version: "2.0.0", constraint: ">= 1.0.0, < 2.0.0", want: false},
		{name: "no constraint", version: "9.9.9", constraint: "", want: true},
		{name: "bad version", version: "latest", constraint: ">= 1.0.0", wantErr: true},
		{name: "bad constraint", version: "1.0.0", constraint: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CheckProtocolVersion(tt.version, tt.constraint)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckProtocolVersion() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CheckProtocolVersion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{
			name:  "bytes",
			bytes: 512,
			want:  "512 B",
		},
		{
			name:  "kilobytes",
			bytes: 1536, // 1.5 KB
			want:  "1.5 KB",
		},
		{
			name:  "megabytes",
			bytes: 1048576, // 1 MB
			want:  "1.0 MB",
		},
		{
			name:  "zero bytes",
			bytes: 0,
			want:  "0 B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBytes(tt.bytes); got != tt.want {
				t.Errorf("FormatBytes() = %v, want %v", got, tt.want)
			}
		})
	}
}
