package events

import (
	"math/big"

	"pynthchain/core/types"
	"pynthchain/crypto"
)

const (
	TypeTokenStaked      = "staking.staked"
	TypeTokenUnstaked    = "staking.unstaked"
	TypeStakeRedeemed    = "staking.redeemed"
	TypeCrossDebtUpdated = "crosschain.debtUpdated"
	TypeCrossReport      = "crosschain.reportApplied"
)

// TokenStaked records external collateral moved into the stake pool.
type TokenStaked struct {
	Account crypto.Address
	Token   string
	Amount  *big.Int
	Total   *big.Int
}

// EventType satisfies the Event interface.
func (TokenStaked) EventType() string { return TypeTokenStaked }

// Event converts the structured payload into a broadcastable event.
func (e TokenStaked) Event() *types.Event {
	return &types.Event{Type: TypeTokenStaked, Attributes: map[string]string{
		"account": formatAddress(e.Account),
		"token":   normalizeAsset(e.Token),
		"amount":  formatAmount(e.Amount),
		"total":   formatAmount(e.Total),
	}}
}

// TokenUnstaked records external collateral released back to the account or,
// when Recipient differs from Account, redeemed to a liquidator.
type TokenUnstaked struct {
	Account   crypto.Address
	Recipient crypto.Address
	Token     string
	Amount    *big.Int
	Remaining *big.Int
}

// EventType satisfies the Event interface.
func (e TokenUnstaked) EventType() string {
	if !e.Recipient.IsZero() && e.Recipient != e.Account {
		return TypeStakeRedeemed
	}
	return TypeTokenUnstaked
}

// Event converts the structured payload into a broadcastable event.
func (e TokenUnstaked) Event() *types.Event {
	attrs := map[string]string{
		"account":   formatAddress(e.Account),
		"token":     normalizeAsset(e.Token),
		"amount":    formatAmount(e.Amount),
		"remaining": formatAmount(e.Remaining),
	}
	if !e.Recipient.IsZero() {
		attrs["recipient"] = e.Recipient.String()
	}
	return &types.Event{Type: e.EventType(), Attributes: attrs}
}

// CrossNetworkDebtUpdated records an applied remote debt snapshot.
type CrossNetworkDebtUpdated struct {
	NetworkID  uint64
	IssuedDebt *big.Int
	ActiveDebt *big.Int
	Version    uint64
	ReportID   string
}

// EventType satisfies the Event interface.
func (CrossNetworkDebtUpdated) EventType() string { return TypeCrossDebtUpdated }

// Event converts the structured payload into a broadcastable event.
func (e CrossNetworkDebtUpdated) Event() *types.Event {
	attrs := map[string]string{
		"networkId":  formatUint(e.NetworkID),
		"issuedDebt": formatAmount(e.IssuedDebt),
		"activeDebt": formatAmount(e.ActiveDebt),
		"version":    formatUint(e.Version),
	}
	if e.ReportID != "" {
		attrs["reportId"] = e.ReportID
	}
	return &types.Event{Type: TypeCrossDebtUpdated, Attributes: attrs}
}

// CrossReportApplied summarises an idempotent set-all report.
type CrossReportApplied struct {
	ReportID string
	Digest   string
	Applied  int
	Skipped  int
}

// EventType satisfies the Event interface.
func (CrossReportApplied) EventType() string { return TypeCrossReport }

// Event converts the structured payload into a broadcastable event.
func (e CrossReportApplied) Event() *types.Event {
	return &types.Event{Type: TypeCrossReport, Attributes: map[string]string{
		"reportId": e.ReportID,
		"digest":   e.Digest,
		"applied":  formatUint(uint64(e.Applied)),
		"skipped":  formatUint(uint64(e.Skipped)),
	}}
}
