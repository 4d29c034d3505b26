package parsers

import (
	"io"

	"github.com/username/tradejournal/backend/src/models"
)

// TradeParser turns a raw trade-log file into an ordered sequence of
// parsed rows. Implementations are strict about column presence (a missing
// required column fails the whole call) but lenient about cell content:
// rows whose cells fail to parse come back error-tagged instead of
// aborting the file. Empty input yields an empty slice, not an error.
type TradeParser interface {
	Parse(r io.Reader, fieldMapping map[string]string) ([]models.ParsedRow, error)
}
