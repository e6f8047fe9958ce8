package common

import (
	"errors"
	"math/big"

	"pynthchain/crypto"
)

// Currency keys with protocol meaning.
const (
	PUSD = "pUSD"
	PERI = "PERI"
)

var ErrRateInvalid = errors.New("rate invalid or stale")

// RateView is the price feed consumed by the ledger. Rates are unit-scale
// pUSD prices; the boolean is true when the rate is missing or stale.
type RateView interface {
	RateAndInvalid(key string) (*big.Int, bool)
}

// Balances is the fungible balance ledger consumed by the core. Amounts are in
// the currency's own decimals.
type Balances interface {
	BalanceOf(key string, account crypto.Address) *big.Int
	TotalSupply(key string) *big.Int
	Transfer(key string, from, to crypto.Address, amount *big.Int) error
	Issue(key string, to crypto.Address, amount *big.Int) error
	Burn(key string, from crypto.Address, amount *big.Int) error
}

// RatesAndAnyInvalid fetches several rates at once and reports whether any of
// them is invalid.
func RatesAndAnyInvalid(r RateView, keys ...string) ([]*big.Int, bool) {
	out := make([]*big.Int, len(keys))
	anyInvalid := false
	for i, key := range keys {
		if r == nil {
			out[i] = new(big.Int)
			anyInvalid = true
			continue
		}
		rate, invalid := r.RateAndInvalid(key)
		out[i] = Copy(rate)
		if invalid || rate == nil || rate.Sign() <= 0 {
			anyInvalid = true
		}
	}
	return out, anyInvalid
}

// EffectiveValue converts amount of source into dest using unit-scale rates.
func EffectiveValue(r RateView, source string, amount *big.Int, dest string) (*big.Int, bool) {
	if source == dest {
		return Copy(amount), false
	}
	rates, invalid := RatesAndAnyInvalid(r, source, dest)
	if rates[1].Sign() == 0 {
		return new(big.Int), true
	}
	value := MulDecimal(amount, rates[0])
	return DivDecimal(value, rates[1]), invalid
}
