package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/tradejournal/backend/src/database"
	"github.com/username/tradejournal/backend/src/logger"
	"github.com/username/tradejournal/backend/src/models"
	"github.com/username/tradejournal/backend/src/sessions"
	"github.com/username/tradejournal/backend/src/storage"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

const tradeHeader = "Trade number;Instrument;Account;Strategy;Market pos.;Qty;Entry time;Entry price;Exit time;Exit price;Exit name;Entry name;Profit;Cum. profit;Commission;Description;Connection;Trade duration"

const (
	rowLong     = "1;ES 03-24;Sim101;Breakout;Long;2;1/15/2024 9:30:00;5987,25;1/15/2024 10:15:00;5990,50;Profit target;Entry;$ 262,50;$ 262,50;$ 4,20;;;45 min"
	rowShort    = "2;NQ 03-24;Sim101;Breakout;Short;1;1/15/2024 11:00:00;16890,75;1/15/2024 11:30:00;16850,25;Stop loss;Entry;($ 40,50);$ 222,00;;;;30 min"
	rowBadPrice = "3;ES 03-24;Sim101;Breakout;Long;1;1/15/2024 12:00:00;abc;1/15/2024 12:30:00;5995,00;Profit target;Entry;$ 0,00;$ 222,00;$ 2,10;;;30 min"
)

func csvFile(rows ...string) string {
	return tradeHeader + "\n" + strings.Join(rows, "\n") + "\n"
}

type testEnv struct {
	svc       ImportService
	registry  *sessions.Registry
	trades    TradeStore
	db        *sql.DB
	uploadDir string
}

func newTestEnv(t *testing.T, allowReexecute bool) *testEnv {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	uploadDir := t.TempDir()
	files, err := storage.NewDiskFileStore(uploadDir)
	require.NoError(t, err)

	registry := sessions.NewRegistry(sessions.NewSQLiteStore(db), files, 30*time.Minute)
	trades := NewSQLiteTradeStore(db)
	svc := NewImportService(registry, files, trades, cache.New(time.Minute, time.Minute), allowReexecute)
	return &testEnv{svc: svc, registry: registry, trades: trades, db: db, uploadDir: uploadDir}
}

func (e *testEnv) createSession(t *testing.T, userID int64, content string) *models.ImportSession {
	t.Helper()
	sess, err := e.svc.CreateSession(context.Background(), userID, "trades.csv", strings.NewReader(content))
	require.NoError(t, err)
	return sess
}

func TestPreviewClassifiesRows(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong, rowShort, rowBadPrice))

	sum, err := env.svc.Preview(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Imported)
	assert.Equal(t, 1, sum.Errored)
	assert.Equal(t, 0, sum.Duplicate)
	assert.Equal(t, 0, sum.Skipped)
	require.Len(t, sum.Issues, 1)
	assert.Equal(t, 4, sum.Issues[0].RowNum)
}

func TestPreviewIsSideEffectFree(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong, rowShort, rowBadPrice))

	first, err := env.svc.Preview(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	trades, err := env.svc.ListTrades(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, trades, "preview must not commit trades")

	// The session survives, and repeating the preview yields the same summary.
	second, err := env.svc.Preview(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPreviewRecordsCompletionOnSession(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong))

	_, err := env.svc.Preview(context.Background(), sess.ID, 1, models.ImportOptions{})
	require.NoError(t, err)

	got, err := env.svc.GetSession(context.Background(), sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "true", got.Metadata["previewCompleted"])
	assert.NotEmpty(t, got.ParseCacheKey)
}

func TestExecuteCommitsAndConsumesSession(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong, rowShort, rowBadPrice))

	sum, err := env.svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Imported)
	assert.Equal(t, 1, sum.Errored)

	trades, err := env.svc.ListTrades(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "ES 03-24", trades[0].Instrument)
	assert.Equal(t, "NQ 03-24", trades[1].Instrument)
	assert.NotEmpty(t, trades[0].Fingerprint)

	// The session is consumed; a second execute cannot double-import.
	_, err = env.svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)

	_, statErr := os.Stat(sess.FilePath)
	assert.True(t, os.IsNotExist(statErr), "staged file is removed with the session")
}

func TestExecuteDetectsDuplicatesAcrossSessions(t *testing.T) {
	env := newTestEnv(t, false)
	content := csvFile(rowLong, rowShort, rowBadPrice)

	first := env.createSession(t, 1, content)
	_, err := env.svc.Execute(context.Background(), first.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	// Same file uploaded again behind a fresh session.
	second := env.createSession(t, 1, content)
	sum, err := env.svc.Execute(context.Background(), second.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 0, sum.Imported)
	assert.Equal(t, 2, sum.Duplicate)
	assert.Equal(t, 1, sum.Errored)

	trades, err := env.svc.ListTrades(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestExecuteSkipDuplicatesOffRecommits(t *testing.T) {
	env := newTestEnv(t, false)
	content := csvFile(rowLong, rowShort)

	first := env.createSession(t, 1, content)
	_, err := env.svc.Execute(context.Background(), first.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	second := env.createSession(t, 1, content)
	sum, err := env.svc.Execute(context.Background(), second.ID, 1, models.ImportOptions{SkipDuplicates: false})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Imported)
	assert.Equal(t, 0, sum.Duplicate)

	trades, err := env.svc.ListTrades(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, trades, 4)
}

func TestExecuteInFileDuplicate(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong, rowLong))

	sum, err := env.svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Imported)
	assert.Equal(t, 1, sum.Duplicate)
}

func TestExecuteBlankRowsSkipped(t *testing.T) {
	env := newTestEnv(t, false)
	blank := strings.Repeat(";", 17)
	sess := env.createSession(t, 1, csvFile(rowLong, blank, rowShort))

	sum, err := env.svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Imported)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Errored)
}

func TestExecuteAppliesDefaultCommission(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong, rowShort))

	_, err := env.svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{DefaultCommission: 1.25})
	require.NoError(t, err)

	trades, err := env.svc.ListTrades(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, 4.20, trades[0].Commission, "an explicit commission cell wins")
	assert.Equal(t, 1.25, trades[1].Commission, "a missing commission cell takes the default")
}

func TestExecuteCreatesMissingStrategies(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong))

	_, err := env.svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{CreateMissingStrategies: true})
	require.NoError(t, err)

	var count int
	require.NoError(t, env.db.QueryRow(
		`SELECT COUNT(*) FROM strategies WHERE user_id = ? AND name = ?`, 1, "Breakout").Scan(&count))
	assert.Equal(t, 1, count)
}

// failingTradeStore fails SaveTrade for one instrument to exercise the
// per-row persistence failure path.
type failingTradeStore struct {
	TradeStore
	failInstrument string
}

func (f *failingTradeStore) SaveTrade(ctx context.Context, trade *models.Trade) error {
	if trade.Instrument == f.failInstrument {
		return fmt.Errorf("simulated write failure for %s", trade.Instrument)
	}
	return f.TradeStore.SaveTrade(ctx, trade)
}

func TestExecutePartialPersistenceFailure(t *testing.T) {
	env := newTestEnv(t, false)
	failing := &failingTradeStore{TradeStore: env.trades, failInstrument: "NQ 03-24"}
	svc := NewImportService(env.registry, mustFileStore(t, env.uploadDir), failing, cache.New(time.Minute, time.Minute), false)

	sess, err := svc.CreateSession(context.Background(), 1, "trades.csv", strings.NewReader(csvFile(rowLong, rowShort)))
	require.NoError(t, err)

	sum, err := svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err, "one bad row must not abort the batch")
	assert.Equal(t, 1, sum.Imported)
	assert.Equal(t, 1, sum.Errored)
	require.Len(t, sum.Issues, 1)
	assert.Contains(t, sum.Issues[0].Reason, "failed to persist")

	trades, err := env.trades.ListTrades(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "ES 03-24", trades[0].Instrument)
}

func mustFileStore(t *testing.T, dir string) storage.FileStore {
	t.Helper()
	files, err := storage.NewDiskFileStore(dir)
	require.NoError(t, err)
	return files
}

func TestExecuteReexecuteAllowedKeepsSession(t *testing.T) {
	env := newTestEnv(t, true)
	sess := env.createSession(t, 1, csvFile(rowLong, rowShort))

	_, err := env.svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	got, err := env.svc.GetSession(context.Background(), sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "true", got.Metadata["executeCompleted"])

	sum, err := env.svc.Execute(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Imported)
	assert.Equal(t, 2, sum.Duplicate)
}

func TestCreateSessionRejectsUnsupportedExtensionBeforeStaging(t *testing.T) {
	env := newTestEnv(t, false)

	_, err := env.svc.CreateSession(context.Background(), 1, "trades.pdf", strings.NewReader("data"))
	require.ErrorIs(t, err, models.ErrUnsupportedFormat)

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be staged for a rejected extension")
}

func TestPreviewParsingFailureSurfaced(t *testing.T) {
	env := newTestEnv(t, false)
	sess, err := env.svc.CreateSession(context.Background(), 1, "trades.xlsx", strings.NewReader("not a workbook"))
	require.NoError(t, err)

	_, err = env.svc.Preview(context.Background(), sess.ID, 1, models.ImportOptions{})
	require.ErrorIs(t, err, ErrParsingFailed)
}

func TestGetSessionWaitsForSessionLock(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong))

	// Hold the session lock the way an in-flight execute would.
	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = env.registry.WithLock(sess.ID, func() error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	done := make(chan struct{})
	go func() {
		_, _ = env.svc.GetSession(context.Background(), sess.ID, 1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("GetSession returned while the session lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("GetSession did not return after the session lock was released")
	}
}

func TestGetSessionConcurrentWithPreview(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong, rowShort))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = env.svc.GetSession(context.Background(), sess.ID, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, _ = env.svc.Preview(context.Background(), sess.ID, 1, models.ImportOptions{SkipDuplicates: true})
		}
	}()
	wg.Wait()

	got, err := env.svc.GetSession(context.Background(), sess.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "true", got.Metadata["previewCompleted"])
}

func TestSessionAccessControl(t *testing.T) {
	env := newTestEnv(t, false)
	sess := env.createSession(t, 1, csvFile(rowLong))

	_, err := env.svc.Preview(context.Background(), sess.ID, 2, models.ImportOptions{})
	require.ErrorIs(t, err, sessions.ErrNotOwner)
	_, err = env.svc.Execute(context.Background(), sess.ID, 2, models.ImportOptions{})
	require.ErrorIs(t, err, sessions.ErrNotOwner)
	require.ErrorIs(t, env.svc.DeleteSession(context.Background(), sess.ID, 2), sessions.ErrNotOwner)

	require.NoError(t, env.svc.DeleteSession(context.Background(), sess.ID, 1))
	_, err = env.svc.GetSession(context.Background(), sess.ID, 1)
	require.ErrorIs(t, err, sessions.ErrSessionNotFound)
}
