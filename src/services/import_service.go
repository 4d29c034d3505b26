package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/tradejournal/backend/src/logger"
	"github.com/username/tradejournal/backend/src/models"
	"github.com/username/tradejournal/backend/src/parsers"
	"github.com/username/tradejournal/backend/src/sessions"
	"github.com/username/tradejournal/backend/src/storage"
)

type importServiceImpl struct {
	registry   *sessions.Registry
	files      storage.FileStore
	tradeStore TradeStore
	parseCache *cache.Cache

	// allowReexecute keeps the session alive after a completed execute.
	// Off by default: the session is deleted, so a second execute fails
	// with sessions.ErrSessionNotFound instead of double-importing.
	allowReexecute bool
}

func NewImportService(
	registry *sessions.Registry,
	files storage.FileStore,
	tradeStore TradeStore,
	parseCache *cache.Cache,
	allowReexecute bool,
) ImportService {
	return &importServiceImpl{
		registry:       registry,
		files:          files,
		tradeStore:     tradeStore,
		parseCache:     parseCache,
		allowReexecute: allowReexecute,
	}
}

// CreateSession stages the upload behind a new session. The format check
// runs first so an unsupported extension fails before anything is written.
func (s *importServiceImpl) CreateSession(ctx context.Context, userID int64, fileName string, file io.Reader) (*models.ImportSession, error) {
	if _, err := models.FormatFromFilename(fileName); err != nil {
		return nil, err
	}

	path, size, err := s.files.Save(file)
	if err != nil {
		return nil, fmt.Errorf("staging upload: %w", err)
	}

	sess, err := s.registry.Create(ctx, userID, path, fileName, size)
	if err != nil {
		if rmErr := s.files.Remove(path); rmErr != nil {
			logger.L.Warn("Failed to remove staged file after session creation failure", "path", path, "error", rmErr)
		}
		return nil, err
	}
	return sess, nil
}

// GetSession takes the session lock so a status poll's lazy-expiry delete
// cannot remove the session out from under a running preview or execute.
func (s *importServiceImpl) GetSession(ctx context.Context, sessionID string, userID int64) (*models.ImportSession, error) {
	var sess *models.ImportSession
	err := s.registry.WithLock(sessionID, func() error {
		var err error
		sess, err = s.registry.Get(ctx, sessionID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *importServiceImpl) DeleteSession(ctx context.Context, sessionID string, userID int64) error {
	return s.registry.WithLock(sessionID, func() error {
		if _, err := s.registry.Get(ctx, sessionID, userID); err != nil {
			return err
		}
		return s.registry.Delete(ctx, sessionID)
	})
}

func (s *importServiceImpl) ListTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	return s.tradeStore.ListTrades(ctx, userID)
}

// Preview runs the full parse/validate/dedup pipeline without writing
// anything. Repeated previews of an unchanged session return identical
// summaries (modulo concurrent changes to the owner's trade store).
func (s *importServiceImpl) Preview(ctx context.Context, sessionID string, userID int64, opts models.ImportOptions) (*models.ImportSummary, error) {
	var summary *models.ImportSummary
	err := s.registry.WithLock(sessionID, func() error {
		sess, err := s.registry.Get(ctx, sessionID, userID)
		if err != nil {
			return err
		}

		sum, _, cacheKey, err := s.classify(ctx, sess, opts)
		if err != nil {
			return err
		}
		summary = sum

		patch := models.SessionPatch{
			Metadata:      map[string]string{"previewCompleted": "true"},
			ParseCacheKey: &cacheKey,
		}
		if err := s.registry.Update(ctx, sessionID, userID, patch); err != nil {
			logger.L.Warn("Failed to record preview completion on session", "sessionID", sessionID, "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.L.Info("Preview complete", "sessionID", sessionID, "userID", userID,
		"total", summary.Total, "imported", summary.Imported, "duplicate", summary.Duplicate, "errored", summary.Errored)
	return summary, nil
}

// Execute runs the identical pipeline and then commits every importable
// row. A persistence failure on one row is captured in the summary and
// does not abort the remaining rows.
func (s *importServiceImpl) Execute(ctx context.Context, sessionID string, userID int64, opts models.ImportOptions) (*models.ImportSummary, error) {
	var summary *models.ImportSummary
	err := s.registry.WithLock(sessionID, func() error {
		sess, err := s.registry.Get(ctx, sessionID, userID)
		if err != nil {
			return err
		}

		sum, pending, _, err := s.classify(ctx, sess, opts)
		if err != nil {
			return err
		}

		for _, p := range pending {
			trade := tradeFromRecord(sess.UserID, p.rec, p.fingerprint)
			if !p.rec.HasCommission {
				trade.Commission = opts.DefaultCommission
			}
			if opts.CreateMissingStrategies && trade.Strategy != "" {
				if err := s.tradeStore.EnsureStrategy(ctx, sess.UserID, trade.Strategy); err != nil {
					logger.L.Warn("Failed to ensure strategy", "userID", sess.UserID, "strategy", trade.Strategy, "error", err)
				}
			}
			if err := s.tradeStore.SaveTrade(ctx, trade); err != nil {
				logger.L.Error("Failed to persist trade row", "sessionID", sessionID, "rowNum", p.rec.RowNum, "error", err)
				sum.Imported--
				sum.Errored++
				sum.Issues = append(sum.Issues, models.RowIssue{
					RowNum:  p.rec.RowNum,
					RawText: p.rec.RawText,
					Reason:  fmt.Sprintf("failed to persist trade: %v", err),
				})
			}
		}
		summary = sum

		if s.allowReexecute {
			patch := models.SessionPatch{Metadata: map[string]string{
				"executeCompleted": "true",
				"lastExecuteAt":    time.Now().UTC().Format(time.RFC3339),
			}}
			if err := s.registry.Update(ctx, sessionID, userID, patch); err != nil {
				logger.L.Warn("Failed to record execute completion on session", "sessionID", sessionID, "error", err)
			}
			return nil
		}
		if err := s.registry.Delete(ctx, sessionID); err != nil {
			logger.L.Error("Failed to delete session after execute", "sessionID", sessionID, "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.L.Info("Execute complete", "sessionID", sessionID, "userID", userID,
		"total", summary.Total, "imported", summary.Imported, "duplicate", summary.Duplicate, "errored", summary.Errored)
	return summary, nil
}

type pendingTrade struct {
	rec         *models.RawTradeRecord
	fingerprint string
}

// classify runs the shared pipeline: parse (memoized), then per-row
// validation and dedup. Row classification order: parse failure, then
// validation failure, then duplicate, then importable.
func (s *importServiceImpl) classify(ctx context.Context, sess *models.ImportSession, opts models.ImportOptions) (*models.ImportSummary, []pendingTrade, string, error) {
	rows, cacheKey, err := s.parseSession(sess, opts)
	if err != nil {
		return nil, nil, "", err
	}

	existing, err := s.tradeStore.Fingerprints(ctx, sess.UserID)
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading existing trade fingerprints: %w", err)
	}

	summary := &models.ImportSummary{Issues: []models.RowIssue{}}
	var pending []pendingTrade
	for _, row := range rows {
		summary.Total++
		switch {
		case row.Blank:
			summary.Skipped++
		case row.Err != nil:
			summary.Errored++
			summary.Issues = append(summary.Issues, *row.Err)
		default:
			rec := row.Record
			if reason := validateRecord(rec); reason != "" {
				summary.Errored++
				summary.Issues = append(summary.Issues, models.RowIssue{RowNum: rec.RowNum, RawText: rec.RawText, Reason: reason})
				continue
			}
			fp := fingerprint(rec)
			if opts.SkipDuplicates {
				if _, dup := existing[fp]; dup {
					summary.Duplicate++
					continue
				}
				// A repeat inside the same file is a duplicate too.
				existing[fp] = struct{}{}
			}
			summary.Imported++
			pending = append(pending, pendingTrade{rec: rec, fingerprint: fp})
		}
	}
	return summary, pending, cacheKey, nil
}

// parseSession reads the staged file and parses it, memoizing the result
// keyed by content hash (and field mapping) so repeated previews of the
// same bytes skip the parse.
func (s *importServiceImpl) parseSession(sess *models.ImportSession, opts models.ImportOptions) ([]models.ParsedRow, string, error) {
	rc, err := s.files.Open(sess.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("opening staged file for session %s: %w", sess.ID, err)
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, "", fmt.Errorf("reading staged file for session %s: %w", sess.ID, err)
	}

	cacheKey := parseCacheKey(content, opts.FieldMapping)
	if cached, found := s.parseCache.Get(cacheKey); found {
		logger.L.Debug("Parse cache hit", "sessionID", sess.ID, "key", cacheKey)
		return cached.([]models.ParsedRow), cacheKey, nil
	}

	parser, err := parsers.GetParser(sess.FileFormat)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	rows, err := parser.Parse(bytes.NewReader(content), opts.FieldMapping)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	s.parseCache.Set(cacheKey, rows, cache.DefaultExpiration)
	return rows, cacheKey, nil
}

func parseCacheKey(content []byte, fieldMapping map[string]string) string {
	h := sha256.New()
	h.Write(content)
	if len(fieldMapping) > 0 {
		keys := make([]string, 0, len(fieldMapping))
		for k := range fieldMapping {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "|%s=%s", k, fieldMapping[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// validateRecord applies required-field validation. An empty string means
// the record is importable.
func validateRecord(rec *models.RawTradeRecord) string {
	if rec.Instrument == "" {
		return "missing instrument symbol"
	}
	if rec.Direction != "LONG" && rec.Direction != "SHORT" {
		return fmt.Sprintf("invalid market position %q", rec.Direction)
	}
	if rec.Quantity <= 0 {
		return "non-positive quantity"
	}
	if rec.EntryPrice <= 0 {
		return "non-positive entry price"
	}
	if rec.ExitPrice <= 0 {
		return "non-positive exit price"
	}
	if rec.ExitTime.Before(rec.EntryTime) {
		return "exit time before entry time"
	}
	return ""
}

// fingerprint derives the dedup identity of a parsed row: same symbol,
// entry/exit timestamps, quantity and entry price mean the same trade.
func fingerprint(rec *models.RawTradeRecord) string {
	input := fmt.Sprintf("%s|%s|%s|%.8f|%.8f",
		rec.Instrument,
		rec.EntryTime.UTC().Format(time.RFC3339),
		rec.ExitTime.UTC().Format(time.RFC3339),
		rec.Quantity,
		rec.EntryPrice,
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

func tradeFromRecord(userID int64, rec *models.RawTradeRecord, fp string) *models.Trade {
	return &models.Trade{
		UserID:      userID,
		Instrument:  rec.Instrument,
		Account:     rec.Account,
		Strategy:    rec.Strategy,
		Direction:   rec.Direction,
		Quantity:    rec.Quantity,
		EntryTime:   rec.EntryTime,
		ExitTime:    rec.ExitTime,
		EntryPrice:  rec.EntryPrice,
		ExitPrice:   rec.ExitPrice,
		Profit:      rec.Profit,
		Commission:  rec.Commission,
		Fingerprint: fp,
		RawText:     rec.RawText,
	}
}
