// Package money provides exact decimal arithmetic for credit balances, costs and margins.
package money

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// precision covers balances well beyond anything a client account will hold.
const precision = 34

// Decimal is an immutable exact decimal value. The zero value is 0.
type Decimal struct {
	value apd.Decimal
}

// Zero is the decimal 0.
var Zero = Decimal{}

func arith() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(precision)
	ctx.Rounding = apd.RoundHalfUp
	return ctx
}

// Parse parses a decimal string such as "10.00" or "-3.5".
func Parse(s string) (Decimal, error) {
	var d apd.Decimal
	if _, _, err := d.SetString(strings.TrimSpace(s)); err != nil {
		return Decimal{}, eris.Wrapf(err, "money: invalid decimal %q", s)
	}
	return Decimal{value: d}, nil
}

// MustParse is Parse for constants and tests. It panics on invalid input.
func MustParse(s string) Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromInt returns the decimal for an integer.
func FromInt(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

// FromFloat converts a float. Prefer Parse when the source is textual.
func FromFloat(f float64) Decimal {
	var d apd.Decimal
	if _, err := d.SetFloat64(f); err != nil {
		return Decimal{}
	}
	return Decimal{value: d}
}

// Add returns d + o.
func (d Decimal) Add(o Decimal) Decimal {
	var r apd.Decimal
	_, _ = arith().Add(&r, &d.value, &o.value)
	return Decimal{value: r}
}

// Sub returns d - o.
func (d Decimal) Sub(o Decimal) Decimal {
	var r apd.Decimal
	_, _ = arith().Sub(&r, &d.value, &o.value)
	return Decimal{value: r}
}

// Mul returns d * o.
func (d Decimal) Mul(o Decimal) Decimal {
	var r apd.Decimal
	_, _ = arith().Mul(&r, &d.value, &o.value)
	return Decimal{value: r}
}

// Div returns d / o. Division by zero returns zero.
func (d Decimal) Div(o Decimal) Decimal {
	if o.IsZero() {
		return Zero
	}
	var r apd.Decimal
	_, _ = arith().Quo(&r, &d.value, &o.value)
	return Decimal{value: r}
}

// Neg returns -d.
func (d Decimal) Neg() Decimal {
	var r apd.Decimal
	r.Neg(&d.value)
	return Decimal{value: r}
}

// Round rounds half-up to the given number of decimal places.
func (d Decimal) Round(places int32) Decimal {
	var r apd.Decimal
	_, _ = arith().Quantize(&r, &d.value, -places)
	return Decimal{value: r}
}

// Cmp compares d and o, returning -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int {
	return d.value.Cmp(&o.value)
}

// Equal reports whether d and o are numerically equal ("6.5" equals "6.50").
func (d Decimal) Equal(o Decimal) bool { return d.Cmp(o) == 0 }

// IsZero reports whether d == 0.
func (d Decimal) IsZero() bool { return d.value.IsZero() }

// IsNegative reports whether d < 0.
func (d Decimal) IsNegative() bool { return d.value.Sign() < 0 }

// IsPositive reports whether d > 0.
func (d Decimal) IsPositive() bool { return d.value.Sign() > 0 }

// Float64 returns a float approximation, for scoring only.
func (d Decimal) Float64() float64 {
	f, err := d.value.Float64()
	if err != nil {
		return 0
	}
	return f
}

// String returns the plain (non-exponent) decimal representation.
func (d Decimal) String() string {
	return d.value.Text('f')
}

// StringFixed formats d rounded to the given number of places.
func (d Decimal) StringFixed(places int32) string {
	return d.Round(places).String()
}

// MarshalJSON encodes d as a JSON string to avoid float rounding.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a JSON string or number.
func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Zero
		return nil
	}
	p, err := Parse(s)
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// UnmarshalYAML accepts scalars like 0.05 or "0.05".
func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return eris.Errorf("money: expected scalar decimal at line %d", node.Line)
	}
	p, err := Parse(node.Value)
	if err != nil {
		return err
	}
	*d = p
	return nil
}

// Sum adds all values.
func Sum(values ...Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
