package events

import (
	"math/big"

	"pynthchain/core/types"
	"pynthchain/crypto"
)

const (
	// TypePynthsIssued is emitted when an account mints pUSD against collateral.
	TypePynthsIssued = "issuer.issued"
	// TypePynthsBurned is emitted when an account burns pUSD to repay debt.
	TypePynthsBurned = "issuer.burned"
	// TypeDebtEntryAppended records a new cumulative debt ledger factor.
	TypeDebtEntryAppended = "debt.entryAppended"
)

// PynthsIssued captures a debt registration.
type PynthsIssued struct {
	Account        crypto.Address
	Amount         *big.Int
	DebtOwnership  *big.Int
	DebtEntryIndex uint64
	TotalDebt      *big.Int
}

// EventType satisfies the Event interface.
func (PynthsIssued) EventType() string { return TypePynthsIssued }

// Event converts the structured payload into a broadcastable event.
func (e PynthsIssued) Event() *types.Event {
	return &types.Event{Type: TypePynthsIssued, Attributes: map[string]string{
		"account":        formatAddress(e.Account),
		"amount":         formatAmount(e.Amount),
		"debtOwnership":  formatAmount(e.DebtOwnership),
		"debtEntryIndex": formatUint(e.DebtEntryIndex),
		"totalDebt":      formatAmount(e.TotalDebt),
	}}
}

// PynthsBurned captures a debt deregistration. Liquidator is set when the burn
// was performed as part of a liquidation.
type PynthsBurned struct {
	Account        crypto.Address
	Amount         *big.Int
	DebtOwnership  *big.Int
	DebtEntryIndex uint64
	Liquidator     crypto.Address
}

// EventType satisfies the Event interface.
func (PynthsBurned) EventType() string { return TypePynthsBurned }

// Event converts the structured payload into a broadcastable event.
func (e PynthsBurned) Event() *types.Event {
	attrs := map[string]string{
		"account":        formatAddress(e.Account),
		"amount":         formatAmount(e.Amount),
		"debtOwnership":  formatAmount(e.DebtOwnership),
		"debtEntryIndex": formatUint(e.DebtEntryIndex),
	}
	if !e.Liquidator.IsZero() {
		attrs["liquidator"] = e.Liquidator.String()
	}
	return &types.Event{Type: TypePynthsBurned, Attributes: attrs}
}

// DebtEntryAppended records the factor appended to the debt ledger.
type DebtEntryAppended struct {
	Index  uint64
	Factor *big.Int
}

// EventType satisfies the Event interface.
func (DebtEntryAppended) EventType() string { return TypeDebtEntryAppended }

// Event converts the structured payload into a broadcastable event.
func (e DebtEntryAppended) Event() *types.Event {
	return &types.Event{Type: TypeDebtEntryAppended, Attributes: map[string]string{
		"index":  formatUint(e.Index),
		"factor": formatAmount(e.Factor),
	}}
}
