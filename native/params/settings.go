package params

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	nativecommon "pynthchain/native/common"
)

const day = 24 * time.Hour

// Bounds enforced on governance settings.
var (
	MaxIssuanceRatio       = nativecommon.Units(1)
	MaxLiquidationRatio    = nativecommon.Units(1)
	MaxLiquidationPenalty  = nativecommon.Fraction(1, 4)
	RatioFromTargetBuffer  = nativecommon.Units(1)
	MaxTargetThreshold     = nativecommon.Fraction(1, 2)
	MaxExternalTokenQuota  = nativecommon.Units(1)
	MaxExchangeFeeRate     = nativecommon.Fraction(1, 10)
	MinLiquidationDelay    = day
	MaxLiquidationDelay    = 30 * day
	MinFeePeriodDuration   = day
	MaxFeePeriodDuration   = 60 * day
	MaxMinimumStakeTime    = 7 * day
	MinRateStalePeriod     = time.Minute
	DefaultRateStalePeriod = 25 * time.Hour
)

var (
	ErrIssuanceRatioTooHigh      = errors.New("params: issuance ratio exceeds maximum")
	ErrLiquidationRatioTooHigh   = errors.New("params: liquidation ratio must be at most 1/(1+penalty)")
	ErrLiquidationRatioTooLow    = errors.New("params: liquidation ratio must be at least twice the issuance ratio")
	ErrLiquidationPenaltyTooHigh = errors.New("params: liquidation penalty exceeds 25%")
	ErrLiquidationDelayBounds    = errors.New("params: liquidation delay must be between 1 and 30 days")
	ErrFeePeriodDurationBounds   = errors.New("params: fee period duration must be between 1 and 60 days")
	ErrTargetThresholdTooHigh    = errors.New("params: target threshold exceeds 50%")
	ErrMinimumStakeTimeTooHigh   = errors.New("params: minimum stake time exceeds one week")
	ErrExternalQuotaTooHigh      = errors.New("params: external token quota exceeds 100%")
	ErrExchangeFeeTooHigh        = errors.New("params: exchange fee rate exceeds 10%")
	ErrRateStalePeriodTooLow     = errors.New("params: rate stale period below one minute")
	ErrNegativeValue             = errors.New("params: values must not be negative")
)

// Settings carries the governance controlled parameters of the ledger. Ratios
// are unit-scale fractions (debt over collateral).
type Settings struct {
	IssuanceRatio      *big.Int      `json:"issuanceRatio"`
	LiquidationRatio   *big.Int      `json:"liquidationRatio"`
	LiquidationPenalty *big.Int      `json:"liquidationPenalty"`
	LiquidationDelay   time.Duration `json:"liquidationDelay"`
	FeePeriodDuration  time.Duration `json:"feePeriodDuration"`
	TargetThreshold    *big.Int      `json:"targetThreshold"`
	MinimumStakeTime   time.Duration `json:"minimumStakeTime"`
	ExternalTokenQuota *big.Int      `json:"externalTokenQuota"`
	ExchangeFeeRate    *big.Int      `json:"exchangeFeeRate"`
	RateStalePeriod    time.Duration `json:"rateStalePeriod"`
}

// DefaultSettings returns a 400% issuance target, 200% liquidation threshold,
// 10% penalty and weekly fee periods.
func DefaultSettings() Settings {
	return Settings{
		IssuanceRatio:      nativecommon.Fraction(1, 4),
		LiquidationRatio:   nativecommon.Fraction(1, 2),
		LiquidationPenalty: nativecommon.Fraction(1, 10),
		LiquidationDelay:   3 * day,
		FeePeriodDuration:  7 * day,
		TargetThreshold:    nativecommon.Fraction(1, 100),
		MinimumStakeTime:   day,
		ExternalTokenQuota: nativecommon.Fraction(1, 5),
		ExchangeFeeRate:    nativecommon.Fraction(3, 1000),
		RateStalePeriod:    DefaultRateStalePeriod,
	}
}

// Clone returns a deep copy of the settings.
func (s Settings) Clone() Settings {
	out := s
	out.IssuanceRatio = nativecommon.Copy(s.IssuanceRatio)
	out.LiquidationRatio = nativecommon.Copy(s.LiquidationRatio)
	out.LiquidationPenalty = nativecommon.Copy(s.LiquidationPenalty)
	out.TargetThreshold = nativecommon.Copy(s.TargetThreshold)
	out.ExternalTokenQuota = nativecommon.Copy(s.ExternalTokenQuota)
	out.ExchangeFeeRate = nativecommon.Copy(s.ExchangeFeeRate)
	return out
}

// Validate checks every bound and the cross-parameter constraints.
func (s Settings) Validate() error {
	for _, v := range []*big.Int{s.IssuanceRatio, s.LiquidationRatio, s.LiquidationPenalty, s.TargetThreshold, s.ExternalTokenQuota, s.ExchangeFeeRate} {
		if v != nil && v.Sign() < 0 {
			return ErrNegativeValue
		}
	}
	if nativecommon.Copy(s.IssuanceRatio).Cmp(MaxIssuanceRatio) > 0 {
		return ErrIssuanceRatioTooHigh
	}
	if nativecommon.Copy(s.LiquidationPenalty).Cmp(MaxLiquidationPenalty) > 0 {
		return ErrLiquidationPenaltyTooHigh
	}
	maxLiq := nativecommon.DivDecimal(MaxLiquidationRatio, nativecommon.Add(nativecommon.Unit, s.LiquidationPenalty))
	if nativecommon.Copy(s.LiquidationRatio).Cmp(maxLiq) > 0 {
		return ErrLiquidationRatioTooHigh
	}
	minLiq := nativecommon.MulDecimal(s.IssuanceRatio, nativecommon.Add(nativecommon.Unit, RatioFromTargetBuffer))
	if nativecommon.Copy(s.LiquidationRatio).Cmp(minLiq) < 0 {
		return ErrLiquidationRatioTooLow
	}
	if s.LiquidationDelay < MinLiquidationDelay || s.LiquidationDelay > MaxLiquidationDelay {
		return ErrLiquidationDelayBounds
	}
	if s.FeePeriodDuration < MinFeePeriodDuration || s.FeePeriodDuration > MaxFeePeriodDuration {
		return ErrFeePeriodDurationBounds
	}
	if nativecommon.Copy(s.TargetThreshold).Cmp(MaxTargetThreshold) > 0 {
		return ErrTargetThresholdTooHigh
	}
	if s.MinimumStakeTime < 0 || s.MinimumStakeTime > MaxMinimumStakeTime {
		return ErrMinimumStakeTimeTooHigh
	}
	if nativecommon.Copy(s.ExternalTokenQuota).Cmp(MaxExternalTokenQuota) > 0 {
		return ErrExternalQuotaTooHigh
	}
	if nativecommon.Copy(s.ExchangeFeeRate).Cmp(MaxExchangeFeeRate) > 0 {
		return ErrExchangeFeeTooHigh
	}
	if s.RateStalePeriod < MinRateStalePeriod {
		return ErrRateStalePeriodTooLow
	}
	return nil
}

func (s Settings) String() string {
	return fmt.Sprintf("issuance=%s liquidation=%s penalty=%s delay=%s feePeriod=%s",
		nativecommon.FormatUnits(s.IssuanceRatio), nativecommon.FormatUnits(s.LiquidationRatio),
		nativecommon.FormatUnits(s.LiquidationPenalty), s.LiquidationDelay, s.FeePeriodDuration)
}
