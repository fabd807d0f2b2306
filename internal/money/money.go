// Package money provides USD arithmetic on exact decimals. Spend tracking and
// pricing never touch floats; a cost that is off by a rounding error is a
// reconciliation bug.
package money

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"
)

var decCtx = apd.BaseContext.WithPrecision(34)

// Parse converts a decimal string such as "0.04" into an exact amount.
func Parse(s string) (*apd.Decimal, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return nil, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return &d, nil
}

// MustParse is Parse for trusted literals; it panics on malformed input.
func MustParse(s string) *apd.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Zero returns a fresh zero amount.
func Zero() *apd.Decimal {
	return apd.New(0, 0)
}

// Add returns a + b.
func Add(a, b *apd.Decimal) *apd.Decimal {
	var result apd.Decimal
	_, _ = decCtx.Add(&result, a, b)
	return &result
}

// Sub returns a - b.
func Sub(a, b *apd.Decimal) *apd.Decimal {
	var result apd.Decimal
	_, _ = decCtx.Sub(&result, a, b)
	return &result
}

// MulInt returns d * n.
func MulInt(d *apd.Decimal, n int) *apd.Decimal {
	var result apd.Decimal
	_, _ = decCtx.Mul(&result, d, apd.New(int64(n), 0))
	return &result
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d *apd.Decimal) *apd.Decimal {
	if d.Sign() < 0 {
		return Zero()
	}
	return d
}
