package validation

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/username/tradejournal/backend/src/logger"
	"github.com/username/tradejournal/backend/src/models"
)

// AllowedClientContentTypes is a map for quick lookup of allowed client-declared MIME types.
var AllowedClientContentTypes = map[string]bool{
	"text/csv":                 true,
	"application/csv":          true,
	"application/vnd.ms-excel": true, // .xls, also commonly declared for CSV
	"text/plain":               true,
	"application/octet-stream": true, // generic fallback; magic bytes checked after
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true, // .xlsx
}

// ValidateClientContentType checks the Content-Type header provided by the client.
func ValidateClientContentType(contentType string) error {
	normalized := strings.ToLower(strings.Split(contentType, ";")[0])
	if allowed, exists := AllowedClientContentTypes[strings.TrimSpace(normalized)]; !exists || !allowed {
		logger.L.Warn("Disallowed client-declared Content-Type", "contentType", contentType)
		return fmt.Errorf("client-declared file type '%s' is not allowed for trade log upload", contentType)
	}
	return nil
}

var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}

// ValidateFileContentByMagicBytes checks the actual file content signature
// against the format derived from the file name, and returns the detected
// content type. The read pointer is reset so the parser sees the full file.
func ValidateFileContentByMagicBytes(file io.ReadSeeker, format models.FileFormat) (string, error) {
	if file == nil {
		return "", fmt.Errorf("file is nil")
	}

	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read file for content type checking: %w", err)
	}
	if _, seekErr := file.Seek(0, io.SeekStart); seekErr != nil {
		return "", fmt.Errorf("failed to reset file read pointer: %w", seekErr)
	}

	detectedContentType := http.DetectContentType(buffer[:n])
	detectedContentType = strings.ToLower(strings.Split(detectedContentType, ";")[0])

	var ok bool
	switch format {
	case models.FormatCSV:
		// Text-based; the point is rejecting binaries masquerading as CSV.
		switch detectedContentType {
		case "text/plain", "text/csv", "application/csv", "application/octet-stream":
			ok = true
		}
	case models.FormatXLSX:
		// XLSX is a zip container.
		switch detectedContentType {
		case "application/zip", "application/octet-stream":
			ok = true
		}
	case models.FormatXLS:
		// Legacy OLE compound file header.
		ok = bytes.HasPrefix(buffer[:n], oleMagic)
	}

	if !ok {
		logger.L.Warn("Disallowed detected file content type (magic bytes)",
			"detectedContentType", detectedContentType, "declaredFormat", format)
		return detectedContentType, fmt.Errorf("detected file content type '%s' is not consistent with a %s file", detectedContentType, format)
	}

	logger.L.Debug("File content type (magic bytes) validated", "detectedContentType", detectedContentType)
	return detectedContentType, nil
}
