package services

import (
	"context"
	"errors"
	"io"

	"github.com/username/tradejournal/backend/src/models"
)

var (
	// ErrParsingFailed marks structural parse failures: unreadable file,
	// missing required column. Row-level cell failures are summary data,
	// never this error.
	ErrParsingFailed = errors.New("error parsing trade log")
)

// TradeStore is the external persistence boundary for committed trades.
type TradeStore interface {
	SaveTrade(ctx context.Context, trade *models.Trade) error
	// Fingerprints returns the dedup fingerprints of every trade already
	// committed for the user.
	Fingerprints(ctx context.Context, userID int64) (map[string]struct{}, error)
	ListTrades(ctx context.Context, userID int64) ([]models.Trade, error)
	// EnsureStrategy records a strategy name for the user if not present.
	EnsureStrategy(ctx context.Context, userID int64, name string) error
}

// ImportService is the import session pipeline: stage an upload behind a
// session, preview it without side effects, then execute the commit pass.
type ImportService interface {
	CreateSession(ctx context.Context, userID int64, fileName string, file io.Reader) (*models.ImportSession, error)
	GetSession(ctx context.Context, sessionID string, userID int64) (*models.ImportSession, error)
	DeleteSession(ctx context.Context, sessionID string, userID int64) error
	Preview(ctx context.Context, sessionID string, userID int64, opts models.ImportOptions) (*models.ImportSummary, error)
	Execute(ctx context.Context, sessionID string, userID int64, opts models.ImportOptions) (*models.ImportSummary, error)
	ListTrades(ctx context.Context, userID int64) ([]models.Trade, error)
}
