package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	nativecommon "pynthchain/native/common"
	"pynthchain/native/params"
)

// Config is the ledger configuration file.
type Config struct {
	NetworkID  uint64       `toml:"NetworkID"`
	DataDir    string       `toml:"DataDir"`
	Addresses  Addresses    `toml:"addresses"`
	Settings   Settings     `toml:"settings"`
	FeePool    FeePool      `toml:"feepool"`
	Loans      Loans        `toml:"loans"`
	Collateral []Collateral `toml:"collateral"`
	Staking    Staking      `toml:"staking"`
	CrossChain CrossChain   `toml:"crosschain"`
}

// Load loads the configuration from the given path, writing the defaults
// there first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a single-network configuration with the stock governance
// settings and no collateral types.
func Default() *Config {
	defaults := params.DefaultSettings()
	return &Config{
		NetworkID: 1,
		DataDir:   "./pynth-data",
		Addresses: Addresses{
			Authority: "module:governance",
			Oracle:    "module:oracle",
			Fees:      "module:fee-pool",
			Rewards:   "module:rewards",
		},
		Settings:  SettingsFrom(defaults),
		FeePool: FeePool{PeriodLength: 2},
		Loans: Loans{
			Pynths:         []string{nativecommon.PUSD},
			BaseBorrowRate: "0",
			BaseShortRate:  "0",
		},
		CrossChain: CrossChain{Reporter: "module:crosschain-reporter"},
	}
}

// SettingsFrom renders governance settings in their file form.
func SettingsFrom(p params.Settings) Settings {
	return Settings{
		IssuanceRatio:      nativecommon.FormatUnits(p.IssuanceRatio),
		LiquidationRatio:   nativecommon.FormatUnits(p.LiquidationRatio),
		LiquidationPenalty: nativecommon.FormatUnits(p.LiquidationPenalty),
		LiquidationDelay:   p.LiquidationDelay.String(),
		FeePeriodDuration:  p.FeePeriodDuration.String(),
		TargetThreshold:    nativecommon.FormatUnits(p.TargetThreshold),
		MinimumStakeTime:   p.MinimumStakeTime.String(),
		ExternalTokenQuota: nativecommon.FormatUnits(p.ExternalTokenQuota),
		ExchangeFeeRate:    nativecommon.FormatUnits(p.ExchangeFeeRate),
		RateStalePeriod:    p.RateStalePeriod.String(),
	}
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = "./pynth-data"
	}
	if c.FeePool.PeriodLength == 0 {
		c.FeePool.PeriodLength = 2
	}
	for i := range c.Collateral {
		c.Collateral[i].Name = strings.ToLower(strings.TrimSpace(c.Collateral[i].Name))
		c.Collateral[i].Key = strings.TrimSpace(c.Collateral[i].Key)
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
