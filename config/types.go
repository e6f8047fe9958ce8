package config

// Addresses names the privileged and custody accounts. Values are bech32
// ("pyn1..."), hex ("0x...") or "module:<name>" for a derived module address.
type Addresses struct {
	Authority string `toml:"Authority"`
	Oracle    string `toml:"Oracle"`
	Fees      string `toml:"Fees"`
	Rewards   string `toml:"Rewards"`
}

// Settings mirrors the governance parameters. Ratios are decimal strings
// ("0.25"), durations Go duration strings ("72h").
type Settings struct {
	IssuanceRatio      string `toml:"IssuanceRatio" json:"issuanceRatio,omitempty"`
	LiquidationRatio   string `toml:"LiquidationRatio" json:"liquidationRatio,omitempty"`
	LiquidationPenalty string `toml:"LiquidationPenalty" json:"liquidationPenalty,omitempty"`
	LiquidationDelay   string `toml:"LiquidationDelay" json:"liquidationDelay,omitempty"`
	FeePeriodDuration  string `toml:"FeePeriodDuration" json:"feePeriodDuration,omitempty"`
	TargetThreshold    string `toml:"TargetThreshold" json:"targetThreshold,omitempty"`
	MinimumStakeTime   string `toml:"MinimumStakeTime" json:"minimumStakeTime,omitempty"`
	ExternalTokenQuota string `toml:"ExternalTokenQuota" json:"externalTokenQuota,omitempty"`
	ExchangeFeeRate    string `toml:"ExchangeFeeRate" json:"exchangeFeeRate,omitempty"`
	RateStalePeriod    string `toml:"RateStalePeriod" json:"rateStalePeriod,omitempty"`
}

type FeePool struct {
	PeriodLength int `toml:"PeriodLength"`
}

// Loans configures the registry shared by every collateral type.
type Loans struct {
	Pynths                []string `toml:"Pynths"`
	Shortable             []string `toml:"Shortable"`
	DebtLimit             string   `toml:"DebtLimit"`
	BaseBorrowRate        string   `toml:"BaseBorrowRate"`
	BaseShortRate         string   `toml:"BaseShortRate"`
	UtilisationMultiplier string   `toml:"UtilisationMultiplier"`
	MaxSkewRate           string   `toml:"MaxSkewRate"`
}

// Collateral is one [[collateral]] table.
type Collateral struct {
	Name               string   `toml:"Name"`
	Key                string   `toml:"Key"`
	Decimals           uint8    `toml:"Decimals"`
	MinCratio          string   `toml:"MinCratio"`
	MinCollateral      string   `toml:"MinCollateral"`
	IssueFeeRate       string   `toml:"IssueFeeRate"`
	InteractionDelay   string   `toml:"InteractionDelay"`
	LiquidationPenalty string   `toml:"LiquidationPenalty"`
	MaxDebt            string   `toml:"MaxDebt"`
	CanOpenLoans       *bool    `toml:"CanOpenLoans"`
	Short              bool     `toml:"Short"`
	Currencies         []string `toml:"Currencies"`
}

type StakingToken struct {
	Key           string `toml:"Key"`
	Decimals      uint8  `toml:"Decimals"`
	IssuanceRatio string `toml:"IssuanceRatio"`
}

type Staking struct {
	Tokens []StakingToken `toml:"tokens"`
}

type CrossChain struct {
	Reporter string `toml:"Reporter"`
}

// Merge fills every empty field of s from base.
func (s Settings) Merge(base Settings) Settings {
	pick := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	return Settings{
		IssuanceRatio:      pick(s.IssuanceRatio, base.IssuanceRatio),
		LiquidationRatio:   pick(s.LiquidationRatio, base.LiquidationRatio),
		LiquidationPenalty: pick(s.LiquidationPenalty, base.LiquidationPenalty),
		LiquidationDelay:   pick(s.LiquidationDelay, base.LiquidationDelay),
		FeePeriodDuration:  pick(s.FeePeriodDuration, base.FeePeriodDuration),
		TargetThreshold:    pick(s.TargetThreshold, base.TargetThreshold),
		MinimumStakeTime:   pick(s.MinimumStakeTime, base.MinimumStakeTime),
		ExternalTokenQuota: pick(s.ExternalTokenQuota, base.ExternalTokenQuota),
		ExchangeFeeRate:    pick(s.ExchangeFeeRate, base.ExchangeFeeRate),
		RateStalePeriod:    pick(s.RateStalePeriod, base.RateStalePeriod),
	}
}
