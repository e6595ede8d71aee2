package allocation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used when comparing an allocated total with the
// required quantity of a detail line.
var Epsilon = decimal.New(1, -3)

// ParseQuantity parses user input as a non-negative decimal.
// Empty input is zero; a comma is accepted as the decimal separator.
func ParseQuantity(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	q, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, newValidationError(KindInvalidQuantity, "Invalid quantity: "+raw)
	}
	if q.IsNegative() {
		return decimal.Zero, newValidationError(KindInvalidQuantity, "Quantity cannot be negative: "+raw)
	}
	return q, nil
}

// WithinEpsilon reports whether a and b differ by no more than Epsilon
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}
