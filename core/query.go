package core

import (
	"math/big"
	"time"

	"pynthchain/crypto"
	"pynthchain/native/collateral"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/crosschain"
	"pynthchain/native/feepool"
	"pynthchain/native/params"
	"pynthchain/native/rates"
)

// AccountSummary is the outward view of a staker.
type AccountSummary struct {
	Account                crypto.Address
	Debt                   *big.Int
	CollateralValue        *big.Int
	CollateralisationRatio *big.Int
	TargetRatio            *big.Int
	MaxIssuable            *big.Int
	RemainingIssuable      *big.Int
	TransferableCollateral *big.Int
	FeesAvailable          *big.Int
	RewardsAvailable       *big.Int
	Flagged                bool
	LiquidationDeadline    time.Time
	OpenForLiquidation     bool
	RatesInvalid           bool
}

// Account gathers every per-account view in one consistent read.
func (n *Node) Account(account crypto.Address) AccountSummary {
	var out AccountSummary
	n.view(func() {
		debt, invalid := n.issuer.DebtBalanceOf(account)
		value, valueInvalid := n.issuer.CollateralValue(account)
		ratio, ratioInvalid := n.issuer.CollateralisationRatioAndAnyRatesInvalid(account)
		target, _ := n.issuer.TargetRatio(account)
		maxIssuable, _ := n.issuer.MaxIssuablePynths(account)
		remaining, _, _ := n.issuer.RemainingIssuablePynths(account)
		free, _ := n.issuer.TransferableCollateral(account)
		fees, rewards := n.pool.FeesAvailable(account)
		deadline, flagged := n.liq.LiquidationDeadlineForAccount(account)
		out = AccountSummary{
			Account:                account,
			Debt:                   debt,
			CollateralValue:        value,
			CollateralisationRatio: ratio,
			TargetRatio:            target,
			MaxIssuable:            maxIssuable,
			RemainingIssuable:      remaining,
			TransferableCollateral: free,
			FeesAvailable:          fees,
			RewardsAvailable:       rewards,
			Flagged:                flagged,
			LiquidationDeadline:    deadline,
			OpenForLiquidation:     n.liq.IsOpenForLiquidation(account),
			RatesInvalid:           invalid || valueInvalid || ratioInvalid,
		}
	})
	return out
}

func (n *Node) DebtBalanceOf(account crypto.Address) (debt *big.Int, invalid bool) {
	n.view(func() { debt, invalid = n.issuer.DebtBalanceOf(account) })
	return debt, invalid
}

func (n *Node) CollateralisationRatio(account crypto.Address) (ratio *big.Int, invalid bool) {
	n.view(func() { ratio, invalid = n.issuer.CollateralisationRatioAndAnyRatesInvalid(account) })
	return ratio, invalid
}

func (n *Node) MaxIssuablePynths(account crypto.Address) (amount *big.Int, invalid bool) {
	n.view(func() { amount, invalid = n.issuer.MaxIssuablePynths(account) })
	return amount, invalid
}

func (n *Node) RemainingIssuablePynths(account crypto.Address) (remaining, debt *big.Int, invalid bool) {
	n.view(func() { remaining, debt, invalid = n.issuer.RemainingIssuablePynths(account) })
	return remaining, debt, invalid
}

func (n *Node) TotalIssuedPynths() (total *big.Int, invalid bool) {
	n.view(func() { total, invalid = n.issuer.TotalIssuedPynths() })
	return total, invalid
}

func (n *Node) IsOpenForLiquidation(account crypto.Address) (open bool) {
	n.view(func() { open = n.liq.IsOpenForLiquidation(account) })
	return open
}

func (n *Node) LiquidationDeadlineForAccount(account crypto.Address) (deadline time.Time, ok bool) {
	n.view(func() { deadline, ok = n.liq.LiquidationDeadlineForAccount(account) })
	return deadline, ok
}

func (n *Node) BalanceOf(key string, account crypto.Address) (balance *big.Int) {
	n.view(func() { balance = n.bank.BalanceOf(key, account) })
	return balance
}

func (n *Node) TotalSupply(key string) (supply *big.Int) {
	n.view(func() { supply = n.bank.TotalSupply(key) })
	return supply
}

func (n *Node) Pynths() (keys []string) {
	n.view(func() { keys = n.issuer.Pynths() })
	return keys
}

func (n *Node) Quotes() (quotes []rates.PriceQuote) {
	n.view(func() { quotes = n.feed.Quotes() })
	return quotes
}

func (n *Node) Settings() params.Settings {
	return n.params.Settings()
}

func (n *Node) Suspended() (sections []string) {
	n.view(func() { sections = n.status.Suspended() })
	return sections
}

// --- Fee pool ---

func (n *Node) FeesAvailable(account crypto.Address) (fees, rewards *big.Int) {
	n.view(func() { fees, rewards = n.pool.FeesAvailable(account) })
	return fees, rewards
}

func (n *Node) TotalFeesAvailable() (total *big.Int) {
	n.view(func() { total = n.pool.TotalFeesAvailable() })
	return total
}

func (n *Node) TotalRewardsAvailable() (total *big.Int) {
	n.view(func() { total = n.pool.TotalRewardsAvailable() })
	return total
}

func (n *Node) EffectiveDebtRatioForPeriod(account crypto.Address, period int) (ratio *big.Int, err error) {
	n.view(func() { ratio, err = n.pool.EffectiveDebtRatioForPeriod(account, period) })
	return ratio, err
}

func (n *Node) FeePeriods() (periods []feepool.FeePeriod) {
	n.view(func() { periods = n.pool.Periods() })
	return periods
}

// --- Cross-network debt ---

func (n *Node) Networks() (networks []crosschain.NetworkDebt) {
	n.view(func() { networks = n.cross.Networks() })
	return networks
}

// CurrentNetworkDebtPercentage is the local share of the cross-network debt.
func (n *Node) CurrentNetworkDebtPercentage() (share *big.Int, invalid bool) {
	n.view(func() {
		var local *big.Int
		local, invalid = n.issuer.LocalActiveDebt()
		share = n.cross.CurrentNetworkDebtPercentage(local)
	})
	return share, invalid
}

// --- Loans ---

func (n *Node) Loan(kind string, id uint64) (loan collateral.Loan, err error) {
	n.view(func() {
		var engine *collateral.Engine
		if engine, err = n.engine(kind); err != nil {
			return
		}
		var ok bool
		if loan, ok = engine.Loan(id); !ok {
			err = collateral.ErrLoanNotFound
		}
	})
	return loan, err
}

func (n *Node) LoansOf(kind string, account crypto.Address) (loans []collateral.Loan, err error) {
	n.view(func() {
		var engine *collateral.Engine
		if engine, err = n.engine(kind); err != nil {
			return
		}
		loans = engine.LoansOf(account)
	})
	return loans, err
}

func (n *Node) ShortAndCollateral(kind string, account crypto.Address, id uint64) (debt, coll *big.Int, err error) {
	n.view(func() {
		var engine *collateral.Engine
		if engine, err = n.engine(kind); err != nil {
			return
		}
		debt, coll, err = engine.ShortAndCollateral(account, id)
	})
	return debt, coll, err
}

// LoanRatio is collateral value over debt value for an open loan.
func (n *Node) LoanRatio(kind string, id uint64) (ratio *big.Int, err error) {
	n.view(func() {
		var engine *collateral.Engine
		if engine, err = n.engine(kind); err != nil {
			return
		}
		var invalid bool
		ratio, invalid, err = engine.CollateralRatio(id)
		if err == nil && invalid {
			err = nativecommon.ErrRateInvalid
		}
	})
	return ratio, err
}

// CollateralTypes returns the configuration of every loan type.
func (n *Node) CollateralTypes() []collateral.Config {
	out := make([]collateral.Config, 0, len(n.engines))
	for _, name := range n.EngineNames() {
		out = append(out, n.engines[name].Config())
	}
	return out
}

func (n *Node) LoanUtilisation() (utilisation *big.Int, invalid bool) {
	n.view(func() { utilisation, invalid = n.loans.Utilisation() })
	return utilisation, invalid
}
