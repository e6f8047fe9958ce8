package collateral

import (
	"math/big"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

// ShortAndCollateral returns the debt and custodied collateral of an open
// short owned by account.
func (e *Engine) ShortAndCollateral(account crypto.Address, id uint64) (*big.Int, *big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	loan, ok := e.loans[id]
	if !ok || loan.Account != account || !loan.Short {
		return nil, nil, ErrLoanNotFound
	}
	return loan.Debt(), nativecommon.Copy(loan.Collateral), nil
}

// ShortProceeds is the pUSD a short of amount pays out after the issue fee.
func (e *Engine) ShortProceeds(currency string, amount *big.Int) (*big.Int, bool) {
	net := nativecommon.Sub(amount, nativecommon.MulDecimal(amount, e.cfg.IssueFeeRate))
	return valueOf(e.deps.Rates, currency, net, nativecommon.PUSD)
}
