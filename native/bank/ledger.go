package bank

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

var (
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrEmptyCurrency       = errors.New("bank: currency key must not be empty")
)

// Ledger is an in-memory multi-currency balance ledger. Amounts are stored in
// each currency's own decimals.
type Ledger struct {
	mu       sync.RWMutex
	balances map[string]map[crypto.Address]*big.Int
	supply   map[string]*big.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]map[crypto.Address]*big.Int),
		supply:   make(map[string]*big.Int),
	}
}

func (l *Ledger) BalanceOf(key string, account crypto.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return nativecommon.Copy(l.balances[key][account])
}

func (l *Ledger) TotalSupply(key string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return nativecommon.Copy(l.supply[key])
}

func (l *Ledger) Transfer(key string, from, to crypto.Address, amount *big.Int) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyCurrency
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := nativecommon.Copy(l.balances[key][from])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, balance, key, amount)
	}
	l.setLocked(key, from, balance.Sub(balance, amount))
	l.setLocked(key, to, new(big.Int).Add(nativecommon.Copy(l.balances[key][to]), amount))
	return nil
}

func (l *Ledger) Issue(key string, to crypto.Address, amount *big.Int) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyCurrency
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLocked(key, to, new(big.Int).Add(nativecommon.Copy(l.balances[key][to]), amount))
	l.supply[key] = new(big.Int).Add(nativecommon.Copy(l.supply[key]), amount)
	return nil
}

func (l *Ledger) Burn(key string, from crypto.Address, amount *big.Int) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyCurrency
	}
	if !nativecommon.IsPositive(amount) {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance := nativecommon.Copy(l.balances[key][from])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance, from, balance, key, amount)
	}
	l.setLocked(key, from, balance.Sub(balance, amount))
	l.supply[key] = nativecommon.SubFloor(l.supply[key], amount)
	return nil
}

func (l *Ledger) setLocked(key string, account crypto.Address, amount *big.Int) {
	accounts, ok := l.balances[key]
	if !ok {
		accounts = make(map[crypto.Address]*big.Int)
		l.balances[key] = accounts
	}
	if amount.Sign() == 0 {
		delete(accounts, account)
		return
	}
	accounts[account] = amount
}

// Currencies returns the sorted list of currencies that ever had supply.
func (l *Ledger) Currencies() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.supply))
	for key := range l.supply {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

type balanceRecord struct {
	Currency string
	Account  crypto.Address
	Amount   *big.Int
}

type supplyRecord struct {
	Currency string
	Amount   *big.Int
}

type ledgerSnapshot struct {
	Balances []balanceRecord
	Supply   []supplyRecord
}

// ExportState encodes the ledger deterministically with RLP.
func (l *Ledger) ExportState() ([]byte, error) {
	l.mu.RLock()
	snap := ledgerSnapshot{}
	for key, accounts := range l.balances {
		for account, amount := range accounts {
			snap.Balances = append(snap.Balances, balanceRecord{Currency: key, Account: account, Amount: nativecommon.Copy(amount)})
		}
	}
	for key, amount := range l.supply {
		snap.Supply = append(snap.Supply, supplyRecord{Currency: key, Amount: nativecommon.Copy(amount)})
	}
	l.mu.RUnlock()
	sort.Slice(snap.Balances, func(i, j int) bool {
		a, b := snap.Balances[i], snap.Balances[j]
		if a.Currency != b.Currency {
			return a.Currency < b.Currency
		}
		return bytes.Compare(a.Account[:], b.Account[:]) < 0
	})
	sort.Slice(snap.Supply, func(i, j int) bool { return snap.Supply[i].Currency < snap.Supply[j].Currency })
	return rlp.EncodeToBytes(&snap)
}

// ImportState replaces the ledger contents with a snapshot from ExportState.
func (l *Ledger) ImportState(blob []byte) error {
	var snap ledgerSnapshot
	if err := rlp.DecodeBytes(blob, &snap); err != nil {
		return fmt.Errorf("bank: decode snapshot: %w", err)
	}
	balances := make(map[string]map[crypto.Address]*big.Int)
	for _, rec := range snap.Balances {
		if balances[rec.Currency] == nil {
			balances[rec.Currency] = make(map[crypto.Address]*big.Int)
		}
		balances[rec.Currency][rec.Account] = nativecommon.Copy(rec.Amount)
	}
	supply := make(map[string]*big.Int, len(snap.Supply))
	for _, rec := range snap.Supply {
		supply[rec.Currency] = nativecommon.Copy(rec.Amount)
	}
	l.mu.Lock()
	l.balances = balances
	l.supply = supply
	l.mu.Unlock()
	return nil
}
