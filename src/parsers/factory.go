package parsers

import (
	"fmt"

	"github.com/username/tradejournal/backend/src/models"
	"github.com/username/tradejournal/backend/src/parsers/ninjatrader"
)

func GetParser(format models.FileFormat) (TradeParser, error) {
	switch format {
	case models.FormatCSV:
		return ninjatrader.NewCSVParser(), nil
	case models.FormatXLS, models.FormatXLSX:
		return ninjatrader.NewWorkbookParser(), nil
	default:
		return nil, fmt.Errorf("no parser available for format: %s", format)
	}
}
