package money

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrFractionalUnits = errors.New("amount must be a whole number of currency units")
	ErrOverflow        = errors.New("amount overflows")
)

// ParseUnits parses a whole, positive amount of currency units. A zero
// fractional part ("1500.00") is accepted; anything else after the point is not.
func ParseUnits(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	trimmed = strings.NewReplacer(" ", "", "_", "").Replace(trimmed)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if hasFrac {
		if frac == "" || strings.Trim(frac, "0") != "" || !isDigits(frac) {
			return 0, ErrFractionalUnits
		}
	}
	if whole == "" || !isDigits(whole) {
		return 0, ErrInvalidAmount
	}
	value, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrOverflow
	}
	if value <= 0 {
		return 0, ErrInvalidAmount
	}
	return value, nil
}

// Mul multiplies two non-negative quantities, failing instead of wrapping.
func Mul(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrInvalidAmount
	}
	if a != 0 && b > math.MaxInt64/a {
		return 0, ErrOverflow
	}
	return a * b, nil
}

func Add(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

var (
	maxUnits = decimal.NewFromInt(math.MaxInt64)
	minUnits = decimal.NewFromInt(math.MinInt64)
)

// ScaleFloor returns floor(value × factor), or ErrOverflow when the result
// does not fit in an int64.
func ScaleFloor(value int64, factor decimal.Decimal) (int64, error) {
	return toUnits(decimal.NewFromInt(value).Mul(factor).Floor())
}

// ScaleRound returns value × factor rounded half away from zero, or
// ErrOverflow when the result does not fit in an int64.
func ScaleRound(value int64, factor decimal.Decimal) (int64, error) {
	return toUnits(decimal.NewFromInt(value).Mul(factor).Round(0))
}

func toUnits(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxUnits) || d.LessThan(minUnits) {
		return 0, ErrOverflow
	}
	return d.IntPart(), nil
}

// Format renders an amount with space-grouped thousands, e.g. "1 250 000 XAF".
func Format(value int64, currency string) string {
	negative := value < 0
	digits := strconv.FormatInt(value, 10)
	if negative {
		digits = digits[1:]
	}
	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if currency != "" {
		b.WriteByte(' ')
		b.WriteString(currency)
	}
	return b.String()
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
