package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// decimalFromText parses a numeric column scanned as text.
func decimalFromText(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("numeric value required")
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return d, nil
}

// decimalFromNullText parses an optional numeric column scanned as text.
func decimalFromNullText(value sql.NullString) (*decimal.Decimal, error) {
	if !value.Valid {
		return nil, nil
	}
	d, err := decimalFromText(value.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// numericArg renders a decimal for a numeric bind parameter.
func numericArg(d decimal.Decimal) string {
	return d.String()
}

// optionalNumericArg renders an optional decimal, passing NULL when absent.
func optionalNumericArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
