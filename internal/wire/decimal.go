package wire

import (
	"fmt"
	"math/big"
	"strings"
)

// DecimalScale is the fixed number of fractional digits carried by every
// wire decimal. The wire value is the decimal scaled by 10^12, encoded as a
// two's-complement 16-byte big-endian integer.
const DecimalScale = 12

// decimalTotalDigits bounds the precision of a wire decimal: 38 significant
// digits, 12 of which sit after the decimal point.
const decimalTotalDigits = 38

var (
	decimalScaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalScale), nil)

	// decimalMax is 10^38 scaled units; values whose scaled magnitude
	// reaches this bound do not fit the wire precision.
	decimalMax = new(big.Int).Exp(big.NewInt(10), big.NewInt(decimalTotalDigits), nil)

	// nullDecimal is the 16-byte sentinel for a null decimal: the most
	// negative two's-complement 128-bit integer.
	nullDecimal = [16]byte{0x80}
)

// Decimal is a fixed-point decimal with 12 fractional digits, the only
// decimal shape the wire protocol carries. The zero value is 0.
type Decimal struct {
	// unscaled is the value multiplied by 10^12.
	unscaled big.Int
}

// NewDecimal parses a decimal from its string form, e.g. "-12.000000000001".
// More than 12 fractional digits is an error, not a rounding.
func NewDecimal(s string) (*Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty decimal literal")
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if len(fracPart) > DecimalScale {
		return nil, fmt.Errorf("decimal %q has more than %d fractional digits", s, DecimalScale)
	}

	neg := strings.HasPrefix(intPart, "-")
	// Right-pad the fraction to the fixed scale and parse the digits as one
	// integer so "1.5" becomes 1500000000000 scaled units.
	padded := fracPart + strings.Repeat("0", DecimalScale-len(fracPart))
	digits := strings.TrimPrefix(strings.TrimPrefix(intPart, "-"), "+") + padded

	unscaled, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal literal %q", s)
	}
	if neg {
		unscaled.Neg(unscaled)
	}

	d := &Decimal{}
	d.unscaled.Set(unscaled)
	if !d.fits() {
		return nil, fmt.Errorf("decimal %q exceeds %d digits of precision", s, decimalTotalDigits)
	}
	return d, nil
}

// NewDecimalFromInt64 builds a decimal from a whole number.
func NewDecimalFromInt64(v int64) *Decimal {
	d := &Decimal{}
	d.unscaled.Mul(big.NewInt(v), decimalScaleFactor)
	return d
}

// String renders the decimal with the full fixed scale.
func (d *Decimal) String() string {
	quo, rem := new(big.Int).QuoRem(&d.unscaled, decimalScaleFactor, new(big.Int))
	sign := ""
	if d.unscaled.Sign() < 0 {
		sign = "-"
		quo.Abs(quo)
		rem.Abs(rem)
	}
	return fmt.Sprintf("%s%s.%012s", sign, quo.String(), rem.String())
}

// Cmp compares d and other, returning -1, 0, or +1.
func (d *Decimal) Cmp(other *Decimal) int {
	return d.unscaled.Cmp(&other.unscaled)
}

func (d *Decimal) fits() bool {
	abs := new(big.Int).Abs(&d.unscaled)
	return abs.Cmp(decimalMax) < 0
}

// bytes16 renders the scaled value as a two's-complement 16-byte big-endian
// integer. Reports false when the value does not fit the wire precision.
func (d *Decimal) bytes16() ([16]byte, bool) {
	var out [16]byte
	if !d.fits() {
		return out, false
	}

	v := &d.unscaled
	if v.Sign() >= 0 {
		v.FillBytes(out[:])
		return out, true
	}

	// Two's complement: 2^128 + v for negative v.
	twoC := new(big.Int).Lsh(big.NewInt(1), 128)
	twoC.Add(twoC, v)
	twoC.FillBytes(out[:])
	return out, true
}

// decimalFromBytes16 reconstructs a decimal from its wire bytes. The caller
// has already ruled out the null sentinel.
func decimalFromBytes16(raw [16]byte) *Decimal {
	d := &Decimal{}
	d.unscaled.SetBytes(raw[:])
	if raw[0]&0x80 != 0 {
		// Negative: subtract 2^128 to undo two's complement.
		twoC := new(big.Int).Lsh(big.NewInt(1), 128)
		d.unscaled.Sub(&d.unscaled, twoC)
	}
	return d
}
