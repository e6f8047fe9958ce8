package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"pynthchain/core"
	"pynthchain/crypto"
	"pynthchain/native/collateral"
	nativecommon "pynthchain/native/common"
	"pynthchain/native/feepool"
	"pynthchain/native/params"
	"pynthchain/native/staking"
)

const modulePrefix = "module:"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Validate checks that every section parses and satisfies the bounds the
// ledger modules enforce at start-up.
func (c *Config) Validate() error {
	_, err := c.NodeOptions()
	return err
}

// NodeOptions converts the file representation into node options. Logger and
// clock are left for the caller.
func (c *Config) NodeOptions() (core.Options, error) {
	var opts core.Options
	if c == nil {
		return opts, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if c.NetworkID == 0 {
		return opts, fmt.Errorf("%w: NetworkID must be positive", ErrInvalidConfig)
	}
	opts.NetworkID = c.NetworkID

	var err error
	if opts.Authority, err = parseAddress("addresses.Authority", c.Addresses.Authority, true); err != nil {
		return opts, err
	}
	if opts.Oracle, err = parseAddress("addresses.Oracle", c.Addresses.Oracle, false); err != nil {
		return opts, err
	}
	if opts.FeeAddress, err = parseAddress("addresses.Fees", c.Addresses.Fees, true); err != nil {
		return opts, err
	}
	if opts.RewardsAddress, err = parseAddress("addresses.Rewards", c.Addresses.Rewards, true); err != nil {
		return opts, err
	}
	if opts.Reporter, err = parseAddress("crosschain.Reporter", c.CrossChain.Reporter, false); err != nil {
		return opts, err
	}

	if opts.Settings, err = c.Settings.Parse(); err != nil {
		return opts, err
	}

	if c.FeePool.PeriodLength < feepool.MinPeriodLength || c.FeePool.PeriodLength > feepool.MaxPeriodLength {
		return opts, fmt.Errorf("%w: feepool.PeriodLength must be within [%d, %d]", ErrInvalidConfig, feepool.MinPeriodLength, feepool.MaxPeriodLength)
	}
	opts.FeePeriodLength = c.FeePool.PeriodLength

	opts.LoanPynths = trimKeys(c.Loans.Pynths)
	opts.ShortablePynths = trimKeys(c.Loans.Shortable)
	if opts.LoanDebtLimit, err = optionalUnits("loans.DebtLimit", c.Loans.DebtLimit); err != nil {
		return opts, err
	}
	if opts.LoanRates, err = c.Loans.rates(); err != nil {
		return opts, err
	}

	seen := make(map[string]struct{}, len(c.Collateral))
	for i, entry := range c.Collateral {
		cfg, err := entry.config()
		if err != nil {
			return opts, fmt.Errorf("collateral[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.Name]; dup {
			return opts, fmt.Errorf("%w: duplicate collateral %q", ErrInvalidConfig, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
		opts.Collaterals = append(opts.Collaterals, cfg)
	}

	for i, entry := range c.Staking.Tokens {
		ratio, err := nativecommon.ParseUnits(entry.IssuanceRatio)
		if err != nil {
			return opts, fmt.Errorf("%w: staking.tokens[%d].IssuanceRatio: %v", ErrInvalidConfig, i, err)
		}
		token := staking.Token{Key: strings.TrimSpace(entry.Key), Decimals: entry.Decimals, IssuanceRatio: ratio}
		if err := token.Validate(); err != nil {
			return opts, fmt.Errorf("staking.tokens[%d]: %w", i, err)
		}
		opts.StakingTokens = append(opts.StakingTokens, token)
	}
	opts.Logger = slog.Default()
	return opts, nil
}

// Parse converts the string form into validated governance settings.
func (s Settings) Parse() (params.Settings, error) {
	var out params.Settings
	ratios := []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"IssuanceRatio", s.IssuanceRatio, &out.IssuanceRatio},
		{"LiquidationRatio", s.LiquidationRatio, &out.LiquidationRatio},
		{"LiquidationPenalty", s.LiquidationPenalty, &out.LiquidationPenalty},
		{"TargetThreshold", s.TargetThreshold, &out.TargetThreshold},
		{"ExternalTokenQuota", s.ExternalTokenQuota, &out.ExternalTokenQuota},
		{"ExchangeFeeRate", s.ExchangeFeeRate, &out.ExchangeFeeRate},
	}
	for _, r := range ratios {
		v, err := nativecommon.ParseUnits(r.value)
		if err != nil {
			return out, fmt.Errorf("%w: settings.%s: %v", ErrInvalidConfig, r.name, err)
		}
		*r.dst = v
	}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"LiquidationDelay", s.LiquidationDelay, &out.LiquidationDelay},
		{"FeePeriodDuration", s.FeePeriodDuration, &out.FeePeriodDuration},
		{"MinimumStakeTime", s.MinimumStakeTime, &out.MinimumStakeTime},
		{"RateStalePeriod", s.RateStalePeriod, &out.RateStalePeriod},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return out, fmt.Errorf("%w: settings.%s: %v", ErrInvalidConfig, d.name, err)
		}
		*d.dst = v
	}
	if err := out.Validate(); err != nil {
		return out, fmt.Errorf("%w: settings: %v", ErrInvalidConfig, err)
	}
	return out, nil
}

func (l Loans) rates() (collateral.RateParams, error) {
	var out collateral.RateParams
	fields := []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"BaseBorrowRate", l.BaseBorrowRate, &out.BaseBorrowRate},
		{"BaseShortRate", l.BaseShortRate, &out.BaseShortRate},
		{"UtilisationMultiplier", l.UtilisationMultiplier, &out.UtilisationMultiplier},
		{"MaxSkewRate", l.MaxSkewRate, &out.MaxSkewRate},
	}
	for _, f := range fields {
		v, err := optionalUnits("loans."+f.name, f.value)
		if err != nil {
			return out, err
		}
		*f.dst = v
	}
	return out, nil
}

func (c Collateral) config() (collateral.Config, error) {
	out := collateral.Config{
		Name:         c.Name,
		Key:          c.Key,
		Decimals:     c.Decimals,
		CanOpenLoans: true,
		Short:        c.Short,
		Currencies:   trimKeys(c.Currencies),
	}
	if c.CanOpenLoans != nil {
		out.CanOpenLoans = *c.CanOpenLoans
	}
	var err error
	if out.MinCratio, err = optionalUnits("MinCratio", c.MinCratio); err != nil {
		return out, err
	}
	if out.MinCollateral, err = optionalUnits("MinCollateral", c.MinCollateral); err != nil {
		return out, err
	}
	if out.IssueFeeRate, err = optionalUnits("IssueFeeRate", c.IssueFeeRate); err != nil {
		return out, err
	}
	if out.LiquidationPenalty, err = optionalUnits("LiquidationPenalty", c.LiquidationPenalty); err != nil {
		return out, err
	}
	if out.MaxDebt, err = optionalUnits("MaxDebt", c.MaxDebt); err != nil {
		return out, err
	}
	if delay := strings.TrimSpace(c.InteractionDelay); delay != "" {
		if out.InteractionDelay, err = time.ParseDuration(delay); err != nil {
			return out, fmt.Errorf("%w: InteractionDelay: %v", ErrInvalidConfig, err)
		}
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// parseAddress accepts bech32, 0x-hex or the module:<name> shorthand.
func parseAddress(field, value string, required bool) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			return crypto.Address{}, fmt.Errorf("%w: %s required", ErrInvalidConfig, field)
		}
		return crypto.Address{}, nil
	}
	if name, ok := strings.CutPrefix(trimmed, modulePrefix); ok {
		if strings.TrimSpace(name) == "" {
			return crypto.Address{}, fmt.Errorf("%w: %s: empty module name", ErrInvalidConfig, field)
		}
		return crypto.ModuleAddress(name), nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	return addr, nil
}

func optionalUnits(field, value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	v, err := nativecommon.ParseUnits(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
	}
	return v, nil
}

func trimKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
