package events

import (
	"math/big"
	"time"

	"pynthchain/core/types"
	"pynthchain/crypto"
)

const (
	TypeFeePeriodClosed = "feepool.periodClosed"
	TypeFeesClaimed     = "feepool.claimed"
	TypeFeesRecorded    = "feepool.feesRecorded"
)

// FeePeriodClosed captures the rotation of the fee period ring.
type FeePeriodClosed struct {
	PeriodID         uint64
	FeesToDistribute *big.Int
	FeesBurned       *big.Int
	Rewards          *big.Int
	NetworkDebtShare *big.Int
	NextPeriodID     uint64
	NextStartIndex   uint64
	ClosedAt         time.Time
}

// EventType satisfies the Event interface.
func (FeePeriodClosed) EventType() string { return TypeFeePeriodClosed }

// Event converts the structured payload into a broadcastable event.
func (e FeePeriodClosed) Event() *types.Event {
	return &types.Event{Type: TypeFeePeriodClosed, Attributes: map[string]string{
		"periodId":         formatUint(e.PeriodID),
		"feesToDistribute": formatAmount(e.FeesToDistribute),
		"feesBurned":       formatAmount(e.FeesBurned),
		"rewards":          formatAmount(e.Rewards),
		"networkDebtShare": formatAmount(e.NetworkDebtShare),
		"nextPeriodId":     formatUint(e.NextPeriodID),
		"nextStartIndex":   formatUint(e.NextStartIndex),
		"closedAt":         formatUnix(e.ClosedAt),
	}}
}

// FeesClaimed captures a successful fee and reward claim.
type FeesClaimed struct {
	Account      crypto.Address
	Fees         *big.Int
	Rewards      *big.Int
	LastPeriodID uint64
}

// EventType satisfies the Event interface.
func (FeesClaimed) EventType() string { return TypeFeesClaimed }

// Event converts the structured payload into a broadcastable event.
func (e FeesClaimed) Event() *types.Event {
	return &types.Event{Type: TypeFeesClaimed, Attributes: map[string]string{
		"account":      formatAddress(e.Account),
		"fees":         formatAmount(e.Fees),
		"rewards":      formatAmount(e.Rewards),
		"lastPeriodId": formatUint(e.LastPeriodID),
	}}
}

// FeesRecorded captures fees credited to the open period.
type FeesRecorded struct {
	Source   string
	Amount   *big.Int
	PeriodID uint64
}

// EventType satisfies the Event interface.
func (FeesRecorded) EventType() string { return TypeFeesRecorded }

// Event converts the structured payload into a broadcastable event.
func (e FeesRecorded) Event() *types.Event {
	return &types.Event{Type: TypeFeesRecorded, Attributes: map[string]string{
		"source":   e.Source,
		"amount":   formatAmount(e.Amount),
		"periodId": formatUint(e.PeriodID),
	}}
}
