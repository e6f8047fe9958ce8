package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"pynthchain/crypto"
	nativecommon "pynthchain/native/common"
)

// StoreState captures the subset of state manager capabilities required by the
// parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Store holds the governance settings. Every setter is restricted to the
// configured authority and validated against the full settings bounds before
// it takes effect.
type Store struct {
	mu        sync.RWMutex
	authority crypto.Address
	current   Settings
	state     StoreState
}

// NewStore constructs a settings store seeded with initial settings.
func NewStore(authority crypto.Address, initial Settings) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{authority: authority, current: initial.Clone()}, nil
}

// SetState wires the store to the persistence layer used by Load and Persist.
func (s *Store) SetState(state StoreState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Store) Authority() crypto.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authority
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

func (s *Store) IssuanceRatio() *big.Int      { return s.Settings().IssuanceRatio }
func (s *Store) LiquidationRatio() *big.Int   { return s.Settings().LiquidationRatio }
func (s *Store) LiquidationPenalty() *big.Int { return s.Settings().LiquidationPenalty }
func (s *Store) TargetThreshold() *big.Int    { return s.Settings().TargetThreshold }
func (s *Store) ExternalTokenQuota() *big.Int { return s.Settings().ExternalTokenQuota }
func (s *Store) ExchangeFeeRate() *big.Int    { return s.Settings().ExchangeFeeRate }

func (s *Store) LiquidationDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.LiquidationDelay
}

func (s *Store) FeePeriodDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.FeePeriodDuration
}

func (s *Store) MinimumStakeTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.MinimumStakeTime
}

func (s *Store) RateStalePeriod() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.RateStalePeriod
}

func (s *Store) update(caller crypto.Address, mutate func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := nativecommon.RequireCaller(caller, s.authority); err != nil {
		return err
	}
	candidate := s.current.Clone()
	mutate(&candidate)
	if err := candidate.Validate(); err != nil {
		return err
	}
	s.current = candidate
	return nil
}

func (s *Store) SetIssuanceRatio(caller crypto.Address, ratio *big.Int) error {
	return s.update(caller, func(c *Settings) { c.IssuanceRatio = nativecommon.Copy(ratio) })
}

func (s *Store) SetLiquidationRatio(caller crypto.Address, ratio *big.Int) error {
	return s.update(caller, func(c *Settings) { c.LiquidationRatio = nativecommon.Copy(ratio) })
}

func (s *Store) SetLiquidationPenalty(caller crypto.Address, penalty *big.Int) error {
	return s.update(caller, func(c *Settings) { c.LiquidationPenalty = nativecommon.Copy(penalty) })
}

func (s *Store) SetLiquidationDelay(caller crypto.Address, delay time.Duration) error {
	return s.update(caller, func(c *Settings) { c.LiquidationDelay = delay })
}

func (s *Store) SetFeePeriodDuration(caller crypto.Address, duration time.Duration) error {
	return s.update(caller, func(c *Settings) { c.FeePeriodDuration = duration })
}

func (s *Store) SetTargetThreshold(caller crypto.Address, threshold *big.Int) error {
	return s.update(caller, func(c *Settings) { c.TargetThreshold = nativecommon.Copy(threshold) })
}

func (s *Store) SetMinimumStakeTime(caller crypto.Address, d time.Duration) error {
	return s.update(caller, func(c *Settings) { c.MinimumStakeTime = d })
}

func (s *Store) SetExternalTokenQuota(caller crypto.Address, quota *big.Int) error {
	return s.update(caller, func(c *Settings) { c.ExternalTokenQuota = nativecommon.Copy(quota) })
}

func (s *Store) SetExchangeFeeRate(caller crypto.Address, rate *big.Int) error {
	return s.update(caller, func(c *Settings) { c.ExchangeFeeRate = nativecommon.Copy(rate) })
}

func (s *Store) SetRateStalePeriod(caller crypto.Address, d time.Duration) error {
	return s.update(caller, func(c *Settings) { c.RateStalePeriod = d })
}

// Apply replaces every setting at once, e.g. from a governance proposal.
func (s *Store) Apply(caller crypto.Address, next Settings) error {
	return s.update(caller, func(c *Settings) { *c = next.Clone() })
}

// Persist writes the current settings under the canonical parameter key. The
// payload is JSON to align with governance proposal payloads.
func (s *Store) Persist() error {
	blob, err := s.ExportState()
	if err != nil {
		return err
	}
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state == nil {
		return fmt.Errorf("params: state not configured")
	}
	return state.ParamStoreSet(ParamsKeySettings, blob)
}

// Load replaces the in-memory settings with the persisted copy when one
// exists. It reports whether persisted settings were found.
func (s *Store) Load() (bool, error) {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state == nil {
		return false, fmt.Errorf("params: state not configured")
	}
	raw, ok, err := state.ParamStoreGet(ParamsKeySettings)
	if err != nil {
		return false, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	if err := s.ImportState(raw); err != nil {
		return false, err
	}
	return true, nil
}

// ExportState encodes the settings as JSON.
func (s *Store) ExportState() ([]byte, error) {
	encoded, err := json.Marshal(s.Settings())
	if err != nil {
		return nil, fmt.Errorf("params: encode settings: %w", err)
	}
	return encoded, nil
}

// ImportState restores settings produced by ExportState.
func (s *Store) ImportState(blob []byte) error {
	var decoded Settings
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return fmt.Errorf("params: decode settings: %w", err)
	}
	if err := decoded.Validate(); err != nil {
		return fmt.Errorf("params: persisted settings invalid: %w", err)
	}
	s.mu.Lock()
	s.current = decoded
	s.mu.Unlock()
	return nil
}
