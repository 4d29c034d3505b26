package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/username/tradejournal/backend/src/models"
)

type sqliteTradeStore struct {
	db *sql.DB
}

// NewSQLiteTradeStore returns a TradeStore backed by the trades table.
func NewSQLiteTradeStore(db *sql.DB) TradeStore {
	return &sqliteTradeStore{db: db}
}

func (s *sqliteTradeStore) SaveTrade(ctx context.Context, trade *models.Trade) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (user_id, instrument, account, strategy, direction, quantity, entry_time, exit_time, entry_price, exit_price, profit, commission, fingerprint, input_string)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.UserID, trade.Instrument, trade.Account, trade.Strategy, trade.Direction,
		trade.Quantity, trade.EntryTime.UTC().Format(time.RFC3339Nano), trade.ExitTime.UTC().Format(time.RFC3339Nano),
		trade.EntryPrice, trade.ExitPrice, trade.Profit, trade.Commission, trade.Fingerprint, trade.RawText)
	if err != nil {
		return fmt.Errorf("inserting trade (instrument %s): %w", trade.Instrument, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		trade.ID = id
	}
	return nil
}

func (s *sqliteTradeStore) Fingerprints(ctx context.Context, userID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint FROM trades WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying fingerprints for userID %d: %w", userID, err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scanning fingerprint row: %w", err)
		}
		out[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fingerprint rows: %w", err)
	}
	return out, nil
}

func (s *sqliteTradeStore) ListTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, instrument, account, strategy, direction, quantity, entry_time, exit_time, entry_price, exit_price, profit, commission, fingerprint, input_string
		 FROM trades WHERE user_id = ? ORDER BY entry_time ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying trades for userID %d: %w", userID, err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var entryTime, exitTime string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Instrument, &t.Account, &t.Strategy, &t.Direction,
			&t.Quantity, &entryTime, &exitTime, &t.EntryPrice, &t.ExitPrice, &t.Profit,
			&t.Commission, &t.Fingerprint, &t.RawText); err != nil {
			return nil, fmt.Errorf("scanning trade row: %w", err)
		}
		if t.EntryTime, err = time.Parse(time.RFC3339Nano, entryTime); err != nil {
			return nil, fmt.Errorf("parsing entry_time for trade %d: %w", t.ID, err)
		}
		if t.ExitTime, err = time.Parse(time.RFC3339Nano, exitTime); err != nil {
			return nil, fmt.Errorf("parsing exit_time for trade %d: %w", t.ID, err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trade rows: %w", err)
	}
	return trades, nil
}

func (s *sqliteTradeStore) EnsureStrategy(ctx context.Context, userID int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strategies (user_id, name) VALUES (?, ?) ON CONFLICT(user_id, name) DO NOTHING`,
		userID, name)
	if err != nil {
		return fmt.Errorf("ensuring strategy %q for userID %d: %w", name, userID, err)
	}
	return nil
}
