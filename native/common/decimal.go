package common

import (
	"fmt"
	"math/big"
	"strings"
)

// Fixed point helpers. Values at unit scale carry 18 decimals; precise values
// carry 27. Every helper is nil-safe and treats nil as zero.

var (
	Unit        = mustBigInt("1000000000000000000")
	PreciseUnit = mustBigInt("1000000000000000000000000000")

	halfUnit           = new(big.Int).Rsh(Unit, 1)
	halfPreciseUnit    = new(big.Int).Rsh(PreciseUnit, 1)
	unitToPreciseRatio = mustBigInt("1000000000")
	halfPreciseRatio   = new(big.Int).Rsh(unitToPreciseRatio, 1)
)

// UnitDecimals is the decimal count of the unit scale.
const UnitDecimals = 18

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// MustParse parses a base-10 integer literal. Intended for constants and tests.
func MustParse(value string) *big.Int { return mustBigInt(value) }

// MustParseUnits is ParseUnits for literals known to be valid.
func MustParseUnits(value string) *big.Int {
	v, err := ParseUnits(value)
	if err != nil {
		panic(err)
	}
	return v
}

// Units returns n whole units at unit scale.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Unit)
}

// Fraction returns num/den at unit scale, truncated.
func Fraction(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), Unit)
	return v.Quo(v, big.NewInt(den))
}

func Zero() *big.Int { return new(big.Int) }

// Copy returns a defensive copy; nil becomes zero.
func Copy(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

func IsPositive(x *big.Int) bool { return x != nil && x.Sign() > 0 }

func IsZero(x *big.Int) bool { return x == nil || x.Sign() == 0 }

func Min(a, b *big.Int) *big.Int {
	if Copy(a).Cmp(Copy(b)) <= 0 {
		return Copy(a)
	}
	return Copy(b)
}

func Max(a, b *big.Int) *big.Int {
	if Copy(a).Cmp(Copy(b)) >= 0 {
		return Copy(a)
	}
	return Copy(b)
}

// Add returns a+b without mutating the operands.
func Add(a, b *big.Int) *big.Int { return new(big.Int).Add(Copy(a), Copy(b)) }

// Sub returns a-b without mutating the operands. The result may be negative.
func Sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(Copy(a), Copy(b)) }

// SubFloor returns max(a-b, 0).
func SubFloor(a, b *big.Int) *big.Int {
	out := Sub(a, b)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

func mulScaled(x, y, scale *big.Int) *big.Int {
	if x == nil || y == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, y)
	return out.Quo(out, scale)
}

func mulScaledRound(x, y, scale, half *big.Int) *big.Int {
	if x == nil || y == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, y)
	out.Add(out, half)
	return out.Quo(out, scale)
}

func divScaled(x, y, scale *big.Int) *big.Int {
	if x == nil || y == nil || y.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, scale)
	return out.Quo(out, y)
}

func divScaledRound(x, y, scale *big.Int) *big.Int {
	if x == nil || y == nil || y.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, scale)
	out.Add(out, halfUp(y))
	return out.Quo(out, y)
}

// MulDecimal multiplies two unit-scale values, truncating toward zero.
func MulDecimal(x, y *big.Int) *big.Int { return mulScaled(x, y, Unit) }

// MulDecimalRound multiplies two unit-scale values, rounding half up.
func MulDecimalRound(x, y *big.Int) *big.Int { return mulScaledRound(x, y, Unit, halfUnit) }

// DivDecimal divides two unit-scale values, truncating toward zero. Division by
// zero yields zero; callers guard the denominator where it matters.
func DivDecimal(x, y *big.Int) *big.Int { return divScaled(x, y, Unit) }

// DivDecimalRound divides two unit-scale values, rounding half up.
func DivDecimalRound(x, y *big.Int) *big.Int { return divScaledRound(x, y, Unit) }

// DivDecimalUp divides two unit-scale values, rounding away from zero.
func DivDecimalUp(x, y *big.Int) *big.Int {
	if x == nil || y == nil || y.Sign() == 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(x, Unit)
	quo, rem := new(big.Int).QuoRem(num, y, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

func MulPrecise(x, y *big.Int) *big.Int { return mulScaled(x, y, PreciseUnit) }

func MulPreciseRound(x, y *big.Int) *big.Int {
	return mulScaledRound(x, y, PreciseUnit, halfPreciseUnit)
}

func DivPrecise(x, y *big.Int) *big.Int { return divScaled(x, y, PreciseUnit) }

func DivPreciseRound(x, y *big.Int) *big.Int { return divScaledRound(x, y, PreciseUnit) }

// DecimalToPrecise lifts a unit-scale value to precise scale.
func DecimalToPrecise(x *big.Int) *big.Int {
	return new(big.Int).Mul(Copy(x), unitToPreciseRatio)
}

// PreciseToDecimal lowers a precise value to unit scale, rounding half up.
func PreciseToDecimal(x *big.Int) *big.Int {
	out := new(big.Int).Add(Copy(x), halfPreciseRatio)
	return out.Quo(out, unitToPreciseRatio)
}

// PreciseToDecimalFloor lowers a precise value to unit scale, truncating.
func PreciseToDecimalFloor(x *big.Int) *big.Int {
	return new(big.Int).Quo(Copy(x), unitToPreciseRatio)
}

// ToUnitScale converts an amount expressed in the token's native decimals to
// the 18 decimal unit scale. Down-scaling truncates.
func ToUnitScale(amount *big.Int, decimals uint8) *big.Int {
	return rescale(Copy(amount), int(decimals), UnitDecimals, false)
}

// FromUnitScale converts a unit-scale amount to native decimals, truncating.
func FromUnitScale(amount *big.Int, decimals uint8) *big.Int {
	return rescale(Copy(amount), UnitDecimals, int(decimals), false)
}

// FromUnitScaleUp converts a unit-scale amount to native decimals, rounding up.
func FromUnitScaleUp(amount *big.Int, decimals uint8) *big.Int {
	return rescale(Copy(amount), UnitDecimals, int(decimals), true)
}

func rescale(amount *big.Int, from, to int, roundUp bool) *big.Int {
	switch {
	case from == to:
		return amount
	case from < to:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil)
		return amount.Mul(amount, factor)
	default:
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil)
		quo, rem := new(big.Int).QuoRem(amount, factor, new(big.Int))
		if roundUp && rem.Sign() > 0 {
			quo.Add(quo, big.NewInt(1))
		}
		return quo
	}
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	half.Rsh(half, 1)
	return half
}

// ParseUnits parses a decimal string such as "1.25" into a unit-scale value.
// Digits beyond 18 decimals are truncated.
func ParseUnits(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("decimal: empty value")
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("decimal: invalid value %q", value)
	}
	r.Mul(r, new(big.Rat).SetInt(Unit))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// FormatUnits renders a unit-scale value as a decimal string without trailing
// zeroes.
func FormatUnits(x *big.Int) string {
	v := Copy(x)
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}
	quo, rem := new(big.Int).QuoRem(v, Unit, new(big.Int))
	if rem.Sign() == 0 {
		return sign + quo.String()
	}
	frac := rem.String()
	frac = strings.Repeat("0", UnitDecimals-len(frac)) + frac
	return sign + quo.String() + "." + strings.TrimRight(frac, "0")
}
