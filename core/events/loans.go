package events

import (
	"math/big"

	"pynthchain/core/types"
	"pynthchain/crypto"
)

const (
	TypeLoanCreated         = "loan.created"
	TypeLoanCollateralAdded = "loan.collateralDeposited"
	TypeLoanCollateralTaken = "loan.collateralWithdrawn"
	TypeLoanDrawn           = "loan.drawn"
	TypeLoanRepaid          = "loan.repaid"
	TypeLoanClosed          = "loan.closed"
	TypeLoanLiquidated      = "loan.liquidated"
)

// LoanEvent is shared by every loan lifecycle transition. Kind selects the
// concrete event type.
type LoanEvent struct {
	Kind           string
	CollateralType string
	LoanID         uint64
	Account        crypto.Address
	Counter        crypto.Address
	Currency       string
	Short          bool
	Amount         *big.Int
	Collateral     *big.Int
	Principal      *big.Int
	Interest       *big.Int
	Fee            *big.Int
}

// EventType satisfies the Event interface.
func (e LoanEvent) EventType() string { return e.Kind }

// Event converts the structured payload into a broadcastable event.
func (e LoanEvent) Event() *types.Event {
	attrs := map[string]string{
		"collateralType": e.CollateralType,
		"loanId":         formatUint(e.LoanID),
		"account":        formatAddress(e.Account),
		"currency":       e.Currency,
		"amount":         formatAmount(e.Amount),
		"principal":      formatAmount(e.Principal),
	}
	if e.Short {
		attrs["short"] = "true"
	}
	if !e.Counter.IsZero() {
		attrs["counterparty"] = e.Counter.String()
	}
	if e.Collateral != nil {
		attrs["collateral"] = e.Collateral.String()
	}
	if e.Interest != nil {
		attrs["interest"] = e.Interest.String()
	}
	if e.Fee != nil {
		attrs["fee"] = e.Fee.String()
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}
