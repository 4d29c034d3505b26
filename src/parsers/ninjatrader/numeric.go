package ninjatrader

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseLocalizedDecimal converts a NinjaTrader locale-formatted numeric or
// monetary cell into an exact decimal. The export uses decimal commas
// ("5987,25"), dots as thousands separators ("1.234,56") and a currency
// prefix on monetary fields ("$ 262,50"). Negatives may appear with a
// leading minus or in parentheses.
func ParseLocalizedDecimal(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return decimal.Zero, fmt.Errorf("empty numeric value")
	}

	neg := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		neg = true
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if strings.HasPrefix(v, "-") {
		neg = !neg
		v = v[1:]
	}
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, "\u00a0", "")
	v = strings.ReplaceAll(v, " ", "")
	if strings.HasPrefix(v, "-") {
		neg = !neg
		v = v[1:]
	}

	// A dot is only a thousands separator when a decimal comma is present;
	// a lone dot is taken as a plain decimal point.
	if strings.Contains(v, ",") && strings.Contains(v, ".") {
		v = strings.ReplaceAll(v, ".", "")
	}
	v = strings.ReplaceAll(v, ",", ".")

	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable numeric value %q", s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

var timeLayouts = []string{
	"1/2/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"2006-01-02 15:04:05",
}

// ParseTradeTime parses a NinjaTrader timestamp (M/D/YYYY H:MM:SS).
func ParseTradeTime(s string) (t time.Time, err error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err = time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}
