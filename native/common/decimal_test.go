package common

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecimalRounding(t *testing.T) {
	third := DivDecimal(Units(1), Units(3))
	require.Equal(t, "333333333333333333", third.String())

	twoThirdsRound := DivDecimalRound(Units(2), Units(3))
	require.Equal(t, "666666666666666667", twoThirdsRound.String())

	twoThirdsUp := DivDecimalUp(Units(2), Units(3))
	require.Equal(t, "666666666666666667", twoThirdsUp.String())

	exact := DivDecimalUp(Units(1), Units(4))
	require.Equal(t, Fraction(1, 4).String(), exact.String())

	half := MulDecimalRound(big.NewInt(1), Fraction(1, 2))
	require.Equal(t, int64(1), half.Int64())
	require.Equal(t, int64(0), MulDecimal(big.NewInt(1), Fraction(1, 2)).Int64())
}

func TestPreciseConversions(t *testing.T) {
	precise := DecimalToPrecise(Units(2))
	require.Equal(t, 0, precise.Cmp(new(big.Int).Mul(big.NewInt(2), PreciseUnit)))

	// 1.5e-9 units rounds half up to 2e-18.
	require.Equal(t, int64(2), PreciseToDecimal(big.NewInt(1_500_000_000)).Int64())
	require.Equal(t, int64(1), PreciseToDecimalFloor(big.NewInt(1_999_999_999)).Int64())

	third := DivPreciseRound(PreciseUnit, new(big.Int).Mul(big.NewInt(3), PreciseUnit))
	require.Equal(t, "333333333333333333333333333", third.String())
	require.Equal(t, "999999999999999999999999999", MulPreciseRound(third, new(big.Int).Mul(big.NewInt(3), PreciseUnit)).String())
}

func TestNativeDecimalScaling(t *testing.T) {
	sixDecimals := big.NewInt(1_234_567)
	unit := ToUnitScale(sixDecimals, 6)
	require.Equal(t, "1234567000000000000", unit.String())
	require.Equal(t, 0, FromUnitScale(unit, 6).Cmp(sixDecimals))

	dust := Add(unit, big.NewInt(1))
	require.Equal(t, int64(1_234_567), FromUnitScale(dust, 6).Int64())
	require.Equal(t, int64(1_234_568), FromUnitScaleUp(dust, 6).Int64())
}

func TestDivisionByZeroYieldsZero(t *testing.T) {
	require.Equal(t, 0, DivDecimal(Units(1), nil).Sign())
	require.Equal(t, 0, DivPreciseRound(Units(1), Zero()).Sign())
	require.Equal(t, 0, SubFloor(Units(1), Units(2)).Sign())
}

func TestEffectiveValue(t *testing.T) {
	feed := staticRates{"PERI": Fraction(1, 2), "pETH": Units(2000), PUSD: Units(1)}
	value, invalid := EffectiveValue(feed, "pETH", Units(1), PERI)
	require.False(t, invalid)
	require.Equal(t, Units(4000).String(), value.String())

	_, invalid = EffectiveValue(feed, "pBTC", Units(1), PUSD)
	require.True(t, invalid)
}

type staticRates map[string]*big.Int

func (s staticRates) RateAndInvalid(key string) (*big.Int, bool) {
	rate, ok := s[key]
	if !ok {
		return new(big.Int), true
	}
	return new(big.Int).Set(rate), false
}

func TestParseAndFormatUnits(t *testing.T) {
	v, err := ParseUnits("1.25")
	require.NoError(t, err)
	require.Equal(t, "1250000000000000000", v.String())
	require.Equal(t, "1.25", FormatUnits(v))
	require.Equal(t, "3", FormatUnits(Units(3)))
	require.Equal(t, "-0.5", FormatUnits(Sub(Zero(), Fraction(1, 2))))

	_, err = ParseUnits("abc")
	require.Error(t, err)
	_, err = ParseUnits(" ")
	require.Error(t, err)
}

func TestMustParseUnits(t *testing.T) {
	require.Equal(t, Fraction(3, 1000).String(), MustParseUnits("0.003").String())
	require.Equal(t, "249900000000000000", MustParseUnits("0.2499").String())
	require.Panics(t, func() { MustParseUnits("0.2.5") })
	require.Panics(t, func() { MustParse("0.003") })
}
