package events

import (
	"math/big"
	"testing"
	"time"

	"pynthchain/crypto"
)

func TestBufferReleasesOnDrain(t *testing.T) {
	var buf Buffer
	buf.Emit(DebtEntryAppended{Index: 1, Factor: big.NewInt(5)})
	buf.Emit(nil)
	drained := buf.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected one buffered event, got %d", len(drained))
	}
	if len(buf.Drain()) != 0 {
		t.Fatalf("drain must clear the buffer")
	}
	buf.Emit(DebtEntryAppended{Index: 2})
	buf.Discard()
	if len(buf.Drain()) != 0 {
		t.Fatalf("discard must drop pending events")
	}
}

type countingEmitter struct{ n int }

func (c *countingEmitter) Emit(Event) { c.n++ }

func TestFanout(t *testing.T) {
	a, b := &countingEmitter{}, &countingEmitter{}
	Fanout{a, nil, b}.Emit(FeesRecorded{Source: "issuer"})
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected both emitters to receive the event")
	}
}

func TestLiquidationEventAttributes(t *testing.T) {
	account := crypto.BytesToAddress([]byte{0xaa})
	deadline := time.Unix(1_700_000_000, 0)
	evt := ToTypes(AccountFlagged{Account: account, Deadline: deadline})
	if evt.Type != TypeAccountFlagged {
		t.Fatalf("unexpected type %s", evt.Type)
	}
	if evt.Attributes["account"] != account.String() {
		t.Fatalf("unexpected account attr %s", evt.Attributes["account"])
	}
	if evt.Attributes["deadline"] != "1700000000" {
		t.Fatalf("unexpected deadline attr %s", evt.Attributes["deadline"])
	}
}

func TestTokenUnstakedRedeemType(t *testing.T) {
	account := crypto.BytesToAddress([]byte{1})
	liquidator := crypto.BytesToAddress([]byte{2})
	released := TokenUnstaked{Account: account, Recipient: account, Token: "usdc", Amount: big.NewInt(3)}
	if released.EventType() != TypeTokenUnstaked {
		t.Fatalf("expected unstake type, got %s", released.EventType())
	}
	redeemed := TokenUnstaked{Account: account, Recipient: liquidator, Token: "usdc", Amount: big.NewInt(3)}
	evt := redeemed.Event()
	if evt.Type != TypeStakeRedeemed || evt.Attributes["token"] != "usdc" {
		t.Fatalf("unexpected redeem event %+v", evt)
	}
}

func TestTokenAttributeKeepsCurrencyKeyCase(t *testing.T) {
	account := crypto.BytesToAddress([]byte{1})
	staked := TokenStaked{Account: account, Token: " pUSD ", Amount: big.NewInt(1), Total: big.NewInt(1)}.Event()
	if staked.Attributes["token"] != "pUSD" {
		t.Fatalf("unexpected token attr %q", staked.Attributes["token"])
	}
	unstaked := TokenUnstaked{Account: account, Token: "pETH", Amount: big.NewInt(1)}.Event()
	if unstaked.Attributes["token"] != "pETH" {
		t.Fatalf("unexpected token attr %q", unstaked.Attributes["token"])
	}
}

func TestLoanEventOptionalAttributes(t *testing.T) {
	evt := LoanEvent{Kind: TypeLoanCreated, CollateralType: "eth", LoanID: 9, Amount: big.NewInt(10)}.Event()
	if _, ok := evt.Attributes["fee"]; ok {
		t.Fatalf("fee attribute must be omitted when unset")
	}
	if evt.Attributes["loanId"] != "9" || evt.Attributes["principal"] != "0" {
		t.Fatalf("unexpected attributes %+v", evt.Attributes)
	}
}
