package events

import (
	"math/big"
	"time"

	"pynthchain/core/types"
	"pynthchain/crypto"
)

const (
	TypeAccountFlagged      = "liquidation.flagged"
	TypeAccountUnflagged    = "liquidation.removed"
	TypeAccountLiquidated   = "liquidation.executed"
	LiquidationRemovedFixed = "restored"
	LiquidationRemovedEmpty = "collateralExhausted"
)

// AccountFlagged is emitted when an account enters the liquidation delay.
type AccountFlagged struct {
	Account  crypto.Address
	Deadline time.Time
}

// EventType satisfies the Event interface.
func (AccountFlagged) EventType() string { return TypeAccountFlagged }

// Event converts the structured payload into a broadcastable event.
func (e AccountFlagged) Event() *types.Event {
	return &types.Event{Type: TypeAccountFlagged, Attributes: map[string]string{
		"account":  formatAddress(e.Account),
		"deadline": formatUnix(e.Deadline),
	}}
}

// AccountUnflagged is emitted when a liquidation flag is cleared.
type AccountUnflagged struct {
	Account crypto.Address
	Reason  string
}

// EventType satisfies the Event interface.
func (AccountUnflagged) EventType() string { return TypeAccountUnflagged }

// Event converts the structured payload into a broadcastable event.
func (e AccountUnflagged) Event() *types.Event {
	attrs := map[string]string{"account": formatAddress(e.Account)}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeAccountUnflagged, Attributes: attrs}
}

// AccountLiquidated records a staker liquidation executed through the issuer.
type AccountLiquidated struct {
	Account         crypto.Address
	Liquidator      crypto.Address
	AmountBurned    *big.Int
	ValueRedeemed   *big.Int
	PrimaryRedeemed *big.Int
	FlagRemoved     bool
}

// EventType satisfies the Event interface.
func (AccountLiquidated) EventType() string { return TypeAccountLiquidated }

// Event converts the structured payload into a broadcastable event.
func (e AccountLiquidated) Event() *types.Event {
	flag := "false"
	if e.FlagRemoved {
		flag = "true"
	}
	return &types.Event{Type: TypeAccountLiquidated, Attributes: map[string]string{
		"account":         formatAddress(e.Account),
		"liquidator":      formatAddress(e.Liquidator),
		"amountBurned":    formatAmount(e.AmountBurned),
		"valueRedeemed":   formatAmount(e.ValueRedeemed),
		"primaryRedeemed": formatAmount(e.PrimaryRedeemed),
		"flagRemoved":     flag,
	}}
}
