package models

import (
	"errors"
	"testing"
	"time"
)

func TestFormatFromFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     FileFormat
		wantErr  bool
	}{
		{"csv", "trades.csv", FormatCSV, false},
		{"csv uppercase", "TRADES.CSV", FormatCSV, false},
		{"txt treated as csv", "export.txt", FormatCSV, false},
		{"xls", "trades.xls", FormatXLS, false},
		{"xlsx", "trades.xlsx", FormatXLSX, false},
		{"pdf rejected", "trades.pdf", "", true},
		{"no extension", "trades", "", true},
		{"double extension", "trades.csv.exe", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatFromFilename(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FormatFromFilename(%q) error = %v, wantErr %v", tt.filename, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("FormatFromFilename(%q) error = %v, want ErrUnsupportedFormat", tt.filename, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("FormatFromFilename(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	sess := &ImportSession{UploadedAt: now, ExpiresAt: now.Add(30 * time.Minute)}

	if sess.Expired(now) {
		t.Error("session should not be expired at upload time")
	}
	if sess.Expired(now.Add(30 * time.Minute)) {
		t.Error("session should not be expired exactly at expiry")
	}
	if !sess.Expired(now.Add(30*time.Minute + time.Second)) {
		t.Error("session should be expired past expiry")
	}
}
