package collateral

import (
	"math/big"

	nativecommon "pynthchain/native/common"
)

// valueOf converts a unit-scale amount of source into dest.
func valueOf(rates nativecommon.RateView, source string, amount *big.Int, dest string) (*big.Int, bool) {
	return nativecommon.EffectiveValue(rates, source, amount, dest)
}

// collateralUnits lifts a native collateral amount to unit scale.
func (c Config) collateralUnits(amount *big.Int) *big.Int {
	return nativecommon.ToUnitScale(amount, c.Decimals)
}

// MaxLoan is the largest amount of currency a collateral amount (native
// decimals) can back at the minimum collateral ratio.
func MaxLoan(rates nativecommon.RateView, cfg Config, collateral *big.Int, currency string) (*big.Int, bool) {
	value, invalid := valueOf(rates, cfg.Key, cfg.collateralUnits(collateral), currency)
	return nativecommon.DivDecimal(value, cfg.MinCratio), invalid
}

// CollateralRatio is the loan's collateral value over its debt value, both in
// pUSD. A loan without debt reports zero.
func CollateralRatio(rates nativecommon.RateView, cfg Config, loan Loan) (*big.Int, bool) {
	debt := nativecommon.Add(loan.Amount, loan.AccruedInterest)
	if debt.Sign() == 0 {
		return new(big.Int), false
	}
	debtValue, invalidDebt := valueOf(rates, loan.Currency, debt, nativecommon.PUSD)
	collValue, invalidColl := valueOf(rates, cfg.Key, cfg.collateralUnits(loan.Collateral), nativecommon.PUSD)
	if debtValue.Sign() == 0 {
		return new(big.Int), true
	}
	return nativecommon.DivDecimal(collValue, debtValue), invalidDebt || invalidColl
}

// LiquidationAmount is the loan currency amount that, repaid with the
// penalty taken from collateral, restores the minimum ratio:
// (debt - collateral/minCratio) / (1 - (1+penalty)/minCratio).
func LiquidationAmount(rates nativecommon.RateView, cfg Config, loan Loan) (*big.Int, bool) {
	debt := nativecommon.Add(loan.Amount, loan.AccruedInterest)
	debtValue, invalidDebt := valueOf(rates, loan.Currency, debt, nativecommon.PUSD)
	collValue, invalidColl := valueOf(rates, cfg.Key, cfg.collateralUnits(loan.Collateral), nativecommon.PUSD)
	invalid := invalidDebt || invalidColl

	dividend := nativecommon.Sub(debtValue, nativecommon.DivDecimal(collValue, cfg.MinCratio))
	if dividend.Sign() <= 0 {
		return new(big.Int), invalid
	}
	penalised := nativecommon.DivDecimal(nativecommon.Add(nativecommon.Unit, cfg.LiquidationPenalty), cfg.MinCratio)
	divisor := nativecommon.Sub(nativecommon.Unit, penalised)
	if divisor.Sign() <= 0 {
		return debt, invalid
	}
	usd := nativecommon.DivDecimal(dividend, divisor)
	amount, invalidOut := valueOf(rates, nativecommon.PUSD, usd, loan.Currency)
	return nativecommon.Min(amount, debt), invalid || invalidOut
}

// CollateralRedeemed is the collateral (native decimals) paid to a liquidator
// repaying amount of currency: its value plus the penalty.
func CollateralRedeemed(rates nativecommon.RateView, cfg Config, currency string, amount *big.Int) (*big.Int, bool) {
	value, invalid := valueOf(rates, currency, amount, cfg.Key)
	withPenalty := nativecommon.MulDecimal(value, nativecommon.Add(nativecommon.Unit, cfg.LiquidationPenalty))
	return nativecommon.FromUnitScale(withPenalty, cfg.Decimals), invalid
}
