package ledger

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round2 rounds half away from zero to two decimal places.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// SafeDiv divides and returns zero when the denominator is zero.
func SafeDiv(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

// Percent returns round(num/den*100, 2), or zero when den is zero.
func Percent(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den).Mul(hundred).Round(2)
}

// Money is a decimal that marshals as a two-place JSON string.
type Money struct {
	decimal.Decimal
}

// NewMoney wraps v rounded to two places.
func NewMoney(v decimal.Decimal) Money {
	return Money{Decimal: v.Round(2)}
}

// MarshalJSON emits a quoted fixed-point string such as "150.00".
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}

// UnmarshalJSON accepts either a quoted string or a bare number.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Decimal.UnmarshalJSON(data)
}
