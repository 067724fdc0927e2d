package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimal is a fixed-precision price/size value. Prices and sizes are never
// represented as binary floats; Scale records the number of decimal places
// implied by a symbol's price_precision/tick_size, and Cmp/Equal compare the
// scaled integer representation rather than the decimal.Decimal's own
// internal exponent, so two Decimals built at different input precisions but
// the same Scale compare consistently.
type Decimal struct {
	value decimal.Decimal
	scale int32
}

// NewDecimal builds a Decimal from an existing decimal.Decimal at the given scale.
func NewDecimal(v decimal.Decimal, scale int32) Decimal {
	return Decimal{value: v.Round(scale), scale: scale}
}

// ParseDecimal parses a wire string into a Decimal at the given scale.
func ParseDecimal(s string, scale int32) (Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("model: invalid decimal %q: %w", s, err)
	}
	return NewDecimal(v, scale), nil
}

// DecimalFromFloat builds a Decimal from a float64 at the given scale. Use
// only for synthetic/mock data; real venue frames should parse strings.
func DecimalFromFloat(f float64, scale int32) Decimal {
	return NewDecimal(decimal.NewFromFloat(f), scale)
}

// Zero returns the zero value at the given scale.
func ZeroDecimal(scale int32) Decimal {
	return Decimal{value: decimal.Zero, scale: scale}
}

// ScaledInt returns the scaled integer representation used for comparisons.
func (d Decimal) ScaledInt() int64 {
	return d.value.Shift(d.scale).Truncate(0).IntPart()
}

func (d Decimal) Scale() int32 { return d.scale }

func (d Decimal) IsZero() bool { return d.value.IsZero() }

func (d Decimal) Cmp(other Decimal) int {
	a, b := d.ScaledInt(), other.ScaledInt()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (d Decimal) GreaterThan(other Decimal) bool { return d.Cmp(other) > 0 }
func (d Decimal) LessThan(other Decimal) bool    { return d.Cmp(other) < 0 }
func (d Decimal) Equal(other Decimal) bool       { return d.ScaledInt() == other.ScaledInt() }

func (d Decimal) String() string {
	return d.value.StringFixed(d.scale)
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("model: invalid decimal json %q: %w", s, err)
	}
	scale := d.scale
	if scale == 0 {
		scale = int32(-v.Exponent())
		if scale < 0 {
			scale = 0
		}
	}
	*d = NewDecimal(v, scale)
	return nil
}
