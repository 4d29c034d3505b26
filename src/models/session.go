package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// FileFormat identifies the staged file's format, derived from the upload
// file name extension at session creation.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatXLS  FileFormat = "xls"
	FormatXLSX FileFormat = "xlsx"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

// FormatFromFilename maps a file name extension to a FileFormat.
// Plain .txt exports are treated as the CSV variant.
func FormatFromFilename(name string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xls":
		return FormatXLS, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// ImportSession identifies one upload attempt. ID, UserID and FilePath are
// structural identity fields and never change after creation; updates go
// through SessionPatch, which has no way to express them.
type ImportSession struct {
	ID            string            `json:"id"`
	UserID        int64             `json:"user_id"`
	FilePath      string            `json:"file_path"`
	FileName      string            `json:"file_name"`
	FileFormat    FileFormat        `json:"file_format"`
	FileSizeBytes int64             `json:"file_size_bytes"`
	UploadedAt    time.Time         `json:"uploaded_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	ParseCacheKey string            `json:"parse_cache_key,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the session is past its expiry at the given time.
func (s *ImportSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionPatch carries the mutable fields of a session update. Metadata
// entries are merged into the existing bag rather than replacing it.
type SessionPatch struct {
	Metadata      map[string]string
	ParseCacheKey *string
}
