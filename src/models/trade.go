package models

import "time"

// RawTradeRecord is the parsed form of a single row from a broker trade
// log. It is produced by a parser and consumed by the import engine; it is
// never persisted on its own.
type RawTradeRecord struct {
	TradeNumber   int       `json:"trade_number"`
	Instrument    string    `json:"instrument"`
	Account       string    `json:"account"`
	Strategy      string    `json:"strategy"`
	Direction     string    `json:"direction"` // "LONG" or "SHORT"
	Quantity      float64   `json:"quantity"`
	EntryTime     time.Time `json:"entry_time"`
	ExitTime      time.Time `json:"exit_time"`
	EntryPrice    float64   `json:"entry_price"`
	ExitPrice     float64   `json:"exit_price"`
	Profit        float64   `json:"profit"`
	Commission    float64   `json:"commission"`
	HasCommission bool      `json:"has_commission"`

	// RawText is a snapshot of the source row for diagnostics.
	RawText string `json:"raw_text"`
	// RowNum is the 1-based row number in the source file (header = row 1).
	RowNum int `json:"row_num"`
}

// Trade is a committed trade as persisted for a user.
type Trade struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Instrument  string    `json:"instrument"`
	Account     string    `json:"account"`
	Strategy    string    `json:"strategy"`
	Direction   string    `json:"direction"`
	Quantity    float64   `json:"quantity"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Profit      float64   `json:"profit"`
	Commission  float64   `json:"commission"`
	Fingerprint string    `json:"fingerprint"`
	RawText     string    `json:"raw_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// RowIssue describes one row-level error or warning in an import summary.
type RowIssue struct {
	RowNum  int    `json:"row_num"`
	RawText string `json:"raw_text"`
	Reason  string `json:"reason"`
}

// ImportSummary is the result of a preview or execute call. It is
// constructed fresh per call and never mutated after return.
type ImportSummary struct {
	Total     int        `json:"total"`
	Imported  int        `json:"imported"`
	Skipped   int        `json:"skipped"`
	Duplicate int        `json:"duplicate"`
	Errored   int        `json:"errored"`
	Issues    []RowIssue `json:"issues"`
}

// ImportOptions tunes a preview or execute pass.
type ImportOptions struct {
	SkipDuplicates          bool              `json:"skipDuplicates"`
	DefaultCommission       float64           `json:"defaultCommission"`
	FieldMapping            map[string]string `json:"fieldMapping,omitempty"`
	CreateMissingStrategies bool              `json:"createMissingStrategies"`
}
