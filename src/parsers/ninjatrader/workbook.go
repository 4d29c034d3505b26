package ninjatrader

import (
	"fmt"
	"io"
	"strings"

	"github.com/username/tradejournal/backend/src/models"
	"github.com/xuri/excelize/v2"
)

// WorkbookParser reads the XLSX variant of the trade-performance grid.
// The first sheet is used; cell values go through the same row mapping as
// the CSV path. Legacy OLE .xls files are rejected when the workbook fails
// to open.
type WorkbookParser struct{}

func NewWorkbookParser() *WorkbookParser {
	return &WorkbookParser{}
}

func (p *WorkbookParser) Parse(r io.Reader, fieldMapping map[string]string) ([]models.ParsedRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from sheet %q: %w", sheets[0], err)
	}
	if len(grid) == 0 {
		return nil, nil
	}

	cols, err := resolveColumns(grid[0], fieldMapping)
	if err != nil {
		return nil, err
	}

	var rows []models.ParsedRow
	for i := 1; i < len(grid); i++ {
		rows = append(rows, mapRow(grid[i], cols, i+1, strings.Join(grid[i], ";")))
	}
	return rows, nil
}
