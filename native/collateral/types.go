package collateral

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

// Config describes one collateral type.
type Config struct {
	Name               string
	Key                string
	Decimals           uint8
	MinCratio          *big.Int
	MinCollateral      *big.Int
	IssueFeeRate       *big.Int
	InteractionDelay   time.Duration
	LiquidationPenalty *big.Int
	MaxDebt            *big.Int
	CanOpenLoans       bool
	Short              bool
	Currencies         []string
}

func (c Config) Clone() Config {
	out := c
	out.MinCratio = nativecommon.Copy(c.MinCratio)
	out.MinCollateral = nativecommon.Copy(c.MinCollateral)
	out.IssueFeeRate = nativecommon.Copy(c.IssueFeeRate)
	out.LiquidationPenalty = nativecommon.Copy(c.LiquidationPenalty)
	out.MaxDebt = nativecommon.Copy(c.MaxDebt)
	out.Currencies = append([]string(nil), c.Currencies...)
	return out
}

// Validate checks the configuration. The minimum ratio must exceed one plus
// the penalty or a liquidation could never restore it.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Key) == "" {
		return fmt.Errorf("%w: name and key required", ErrInvalidConfig)
	}
	if c.LiquidationPenalty == nil || c.LiquidationPenalty.Sign() < 0 || c.LiquidationPenalty.Cmp(nativecommon.Unit) > 0 {
		return fmt.Errorf("%w: liquidation penalty must be within [0, 1]", ErrInvalidConfig)
	}
	floor := nativecommon.Add(nativecommon.Unit, c.LiquidationPenalty)
	if c.MinCratio == nil || c.MinCratio.Cmp(floor) <= 0 {
		return fmt.Errorf("%w: minimum ratio must exceed 1 + penalty", ErrInvalidConfig)
	}
	if c.IssueFeeRate != nil && (c.IssueFeeRate.Sign() < 0 || c.IssueFeeRate.Cmp(nativecommon.Unit) >= 0) {
		return fmt.Errorf("%w: issue fee rate must be within [0, 1)", ErrInvalidConfig)
	}
	if c.MinCollateral != nil && c.MinCollateral.Sign() < 0 {
		return fmt.Errorf("%w: minimum collateral must not be negative", ErrInvalidConfig)
	}
	if c.InteractionDelay < 0 {
		return fmt.Errorf("%w: interaction delay must not be negative", ErrInvalidConfig)
	}
	if len(c.Currencies) == 0 {
		return fmt.Errorf("%w: at least one currency required", ErrInvalidConfig)
	}
	return nil
}

func (c Config) supports(currency string) bool {
	for _, key := range c.Currencies {
		if key == currency {
			return true
		}
	}
	return false
}

// Loan is a single collateralised position. Collateral is held in the
// collateral's native decimals; Amount and AccruedInterest are in the loan
// currency at unit scale. Closed loans are zeroed, never deleted.
type Loan struct {
	ID              uint64
	Account         crypto.Address
	Collateral      *big.Int
	Currency        string
	Amount          *big.Int
	Short           bool
	AccruedInterest *big.Int
	InterestIndex   *big.Int
	LastInteraction time.Time
	Closed          bool
}

func (l Loan) Clone() Loan {
	out := l
	out.Collateral = nativecommon.Copy(l.Collateral)
	out.Amount = nativecommon.Copy(l.Amount)
	out.AccruedInterest = nativecommon.Copy(l.AccruedInterest)
	out.InterestIndex = nativecommon.Copy(l.InterestIndex)
	return out
}

// Debt is principal plus accrued interest.
func (l Loan) Debt() *big.Int {
	return nativecommon.Add(l.Amount, l.AccruedInterest)
}
