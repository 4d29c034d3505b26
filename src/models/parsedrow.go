package models

// ParsedRow is one row emitted by a trade parser: a parsed record, a
// row-level parse error, or a blank source row. Rows keep their original
// file order and 1-based row numbers either way.
type ParsedRow struct {
	Record *RawTradeRecord
	Err    *RowIssue
	// Blank marks a row that was empty in the source file. Blank rows are
	// counted but never imported.
	Blank bool
}
