// Package ninjatrader parses NinjaTrader trade-performance exports
// (semicolon-delimited CSV and the XLSX variant of the same grid).
package ninjatrader

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/username/tradejournal/backend/src/models"
)

// ErrMissingColumn reports a required column absent from the header row.
// This fails the whole call; it is never a per-row outcome.
var ErrMissingColumn = errors.New("required column missing")

// Canonical field names, also the keys accepted in a caller field mapping.
const (
	fieldTradeNumber = "tradeNumber"
	fieldInstrument  = "instrument"
	fieldAccount     = "account"
	fieldStrategy    = "strategy"
	fieldDirection   = "direction"
	fieldQuantity    = "quantity"
	fieldEntryTime   = "entryTime"
	fieldEntryPrice  = "entryPrice"
	fieldExitTime    = "exitTime"
	fieldExitPrice   = "exitPrice"
	fieldProfit      = "profit"
	fieldCommission  = "commission"
)

// defaultHeaders maps canonical fields to the column names of a stock
// NinjaTrader export.
var defaultHeaders = map[string]string{
	fieldTradeNumber: "Trade number",
	fieldInstrument:  "Instrument",
	fieldAccount:     "Account",
	fieldStrategy:    "Strategy",
	fieldDirection:   "Market pos.",
	fieldQuantity:    "Qty",
	fieldEntryTime:   "Entry time",
	fieldEntryPrice:  "Entry price",
	fieldExitTime:    "Exit time",
	fieldExitPrice:   "Exit price",
	fieldProfit:      "Profit",
	fieldCommission:  "Commission",
}

var requiredFields = []string{
	fieldInstrument, fieldDirection, fieldQuantity,
	fieldEntryTime, fieldEntryPrice, fieldExitTime, fieldExitPrice,
}

// columnIndex maps canonical field names to column positions in this file.
type columnIndex map[string]int

// resolveColumns matches the header row against the expected column names,
// applying any caller overrides first. Required fields must resolve.
func resolveColumns(header []string, mapping map[string]string) (columnIndex, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	cols := make(columnIndex)
	for field, defaultName := range defaultHeaders {
		name := defaultName
		if override, ok := mapping[field]; ok && override != "" {
			name = override
		}
		if idx, ok := byName[strings.ToLower(name)]; ok {
			cols[field] = idx
		}
	}

	for _, field := range requiredFields {
		if _, ok := cols[field]; !ok {
			name := defaultHeaders[field]
			if override, ok := mapping[field]; ok && override != "" {
				name = override
			}
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}
	return cols, nil
}

func cellValue(record []string, cols columnIndex, field string) string {
	idx, ok := cols[field]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func isBlankRow(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func errRow(rowNum int, rawText, reason string) models.ParsedRow {
	return models.ParsedRow{Err: &models.RowIssue{RowNum: rowNum, RawText: rawText, Reason: reason}}
}

// mapRow converts one data row into a ParsedRow. Cells for required
// numeric and timestamp fields that fail to parse tag the row as errored;
// optional cells degrade to their zero values instead. rawText is the
// original source line, carried through for diagnostics.
func mapRow(record []string, cols columnIndex, rowNum int, rawText string) models.ParsedRow {
	if isBlankRow(record) {
		return models.ParsedRow{Blank: true}
	}

	rec := &models.RawTradeRecord{
		Instrument: cellValue(record, cols, fieldInstrument),
		Account:    cellValue(record, cols, fieldAccount),
		Strategy:   cellValue(record, cols, fieldStrategy),
		Direction:  strings.ToUpper(cellValue(record, cols, fieldDirection)),
		RawText:    rawText,
		RowNum:     rowNum,
	}

	if v := cellValue(record, cols, fieldTradeNumber); v != "" {
		rec.TradeNumber, _ = strconv.Atoi(v)
	}

	qty, err := ParseLocalizedDecimal(cellValue(record, cols, fieldQuantity))
	if err != nil {
		return errRow(rowNum, rawText, fmt.Sprintf("invalid quantity: %v", err))
	}
	rec.Quantity = qty.InexactFloat64()

	entryPrice, err := ParseLocalizedDecimal(cellValue(record, cols, fieldEntryPrice))
	if err != nil {
		return errRow(rowNum, rawText, fmt.Sprintf("invalid entry price: %v", err))
	}
	rec.EntryPrice = entryPrice.InexactFloat64()

	exitPrice, err := ParseLocalizedDecimal(cellValue(record, cols, fieldExitPrice))
	if err != nil {
		return errRow(rowNum, rawText, fmt.Sprintf("invalid exit price: %v", err))
	}
	rec.ExitPrice = exitPrice.InexactFloat64()

	rec.EntryTime, err = ParseTradeTime(cellValue(record, cols, fieldEntryTime))
	if err != nil {
		return errRow(rowNum, rawText, fmt.Sprintf("invalid entry time: %v", err))
	}
	rec.ExitTime, err = ParseTradeTime(cellValue(record, cols, fieldExitTime))
	if err != nil {
		return errRow(rowNum, rawText, fmt.Sprintf("invalid exit time: %v", err))
	}

	// Profit and commission are informational; a bad cell falls back to
	// zero rather than discarding the trade.
	if v := cellValue(record, cols, fieldProfit); v != "" {
		if p, err := ParseLocalizedDecimal(v); err == nil {
			rec.Profit = p.InexactFloat64()
		}
	}
	if v := cellValue(record, cols, fieldCommission); v != "" {
		if c, err := ParseLocalizedDecimal(v); err == nil {
			rec.Commission = c.InexactFloat64()
			rec.HasCommission = true
		}
	}

	return models.ParsedRow{Record: rec}
}

type CSVParser struct{}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(r io.Reader, fieldMapping map[string]string) ([]models.ParsedRow, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read trade log: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	cols, err := resolveColumns(header, fieldMapping)
	if err != nil {
		return nil, err
	}

	var rows []models.ParsedRow
	rowNum := 1 // header row
	for {
		offset := reader.InputOffset()
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		rawText := rawLine(content, offset, reader.InputOffset())
		if err != nil {
			rows = append(rows, errRow(rowNum, rawText, fmt.Sprintf("malformed CSV line: %v", err)))
			continue
		}
		rows = append(rows, mapRow(record, cols, rowNum, rawText))
	}
	return rows, nil
}

// rawLine slices the original source text of the row between two reader
// offsets, so issue reports carry the line exactly as it appeared in the
// file, quoting and all.
func rawLine(content []byte, start, end int64) string {
	if start < 0 || end > int64(len(content)) || start >= end {
		return ""
	}
	return strings.TrimRight(string(content[start:end]), "\r\n")
}
