// Package config defines all configuration for the copy-trading bot.
// Config is read entirely from the environment via viper's AutomaticEnv
// mode — there is no config file, per the environment-only surface the
// bot exposes.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Sizing      SizingConfig      `mapstructure:"sizing"`
	Leverage    LeverageConfig    `mapstructure:"leverage"`
	CopyRules   CopyRulesConfig   `mapstructure:"copy_rules"`
	Simulated   SimulatedConfig   `mapstructure:"simulated"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Store       StoreConfig       `mapstructure:"store"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
}

// HyperliquidConfig holds the exchange endpoints and the two wallets
// involved: the account being mirrored (Target) and the account executing
// mirrored trades (Follower). Only the follower's private key is ever
// needed — the target is observed read-only.
type HyperliquidConfig struct {
	APIURL             string `mapstructure:"api_url"`
	WSURL              string `mapstructure:"ws_url"`
	TargetAddress      string `mapstructure:"target_address"`
	FollowerAddress    string `mapstructure:"follower_address"`
	FollowerPrivateKey string `mapstructure:"follower_private_key"`
	IsTestnet          bool   `mapstructure:"is_testnet"`
}

// SizingConfig controls how a target position maps to a follower size.
//
//   - Mode: "proportional" or "fixed".
//   - FixedSizeUSD: notional used in fixed mode, regardless of target size.
//   - PortfolioRatio: fallback ratio when the target balance reads as 0.
//   - MaxPositionSizeUSD / MaxTotalExposureUSD: Sizer caps (§4.4).
type SizingConfig struct {
	Mode                string  `mapstructure:"mode"`
	FixedSizeUSD        float64 `mapstructure:"fixed_size_usd"`
	PortfolioRatio      float64 `mapstructure:"portfolio_ratio"`
	MaxPositionSizeUSD  float64 `mapstructure:"max_position_size_usd"`
	MaxTotalExposureUSD float64 `mapstructure:"max_total_exposure_usd"`
}

// LeverageConfig picks between the specified "match target" leverage
// policy and the legacy adjustment-ratio policy the original bot also
// supported (see DESIGN.md Open Question 1).
type LeverageConfig struct {
	Policy          string  `mapstructure:"policy"` // "match" | "legacy"
	AdjustmentRatio float64 `mapstructure:"adjustment_ratio"`
	MinLeverage     int     `mapstructure:"min_leverage"`
	MaxLeverage     int     `mapstructure:"max_leverage"`
}

// CopyRulesConfig controls which target activity gets mirrored and the
// Sizer's gating thresholds.
type CopyRulesConfig struct {
	CopyOpenPositions   bool     `mapstructure:"copy_open_positions"`
	CopyExistingOrders  bool     `mapstructure:"copy_existing_orders"`
	AutoAdjustSize      bool     `mapstructure:"auto_adjust_size"`
	UseLimitOrders      bool     `mapstructure:"use_limit_orders"`
	TriggerIsMarket     bool     `mapstructure:"trigger_is_market"`
	MaxOpenTrades       int      `mapstructure:"max_open_trades"` // 0 = unlimited
	MaxOpenOrders       int      `mapstructure:"max_open_orders"` // 0 = unlimited
	MaxAccountEquity    float64  `mapstructure:"max_account_equity"` // 0 = no cap
	MinEntryQualityPct  float64  `mapstructure:"min_entry_quality_pct"`
	MaxSlippagePct      float64  `mapstructure:"max_slippage_pct"` // market orders only; trigger TP/SL limits use a fixed 5%
	MinPositionNotional float64  `mapstructure:"min_position_notional_usd"`
	BlockedAssets       []string `mapstructure:"blocked_assets"`
}

// SimulatedConfig drives dry-run mode: the full pipeline runs but the
// Gateway never submits mutating calls.
type SimulatedConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	AccountBalance float64 `mapstructure:"account_balance"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig sets where the executor's resume checkpoint is written.
type StoreConfig struct {
	CheckpointDir string `mapstructure:"checkpoint_dir"`
}

// DashboardConfig controls the thin status/command HTTP surface.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config purely from the environment. Every field has an
// env var binding; unset fields take the defaults set below.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bind(v, "hyperliquid.api_url", "HYPERLIQUID_API_URL", "https://api.hyperliquid.xyz")
	bind(v, "hyperliquid.ws_url", "HYPERLIQUID_WS_URL", "wss://api.hyperliquid.xyz/ws")
	bind(v, "hyperliquid.target_address", "TARGET_WALLET_ADDRESS", "")
	bind(v, "hyperliquid.follower_address", "FOLLOWER_WALLET_ADDRESS", "")
	bind(v, "hyperliquid.follower_private_key", "FOLLOWER_PRIVATE_KEY", "")
	bind(v, "hyperliquid.is_testnet", "HYPERLIQUID_TESTNET", false)

	bind(v, "sizing.mode", "SIZING_MODE", "proportional")
	bind(v, "sizing.fixed_size_usd", "FIXED_SIZE_USD", 100.0)
	bind(v, "sizing.portfolio_ratio", "PORTFOLIO_RATIO", 0.01)
	bind(v, "sizing.max_position_size_usd", "MAX_POSITION_SIZE_USD", 1000.0)
	bind(v, "sizing.max_total_exposure_usd", "MAX_TOTAL_EXPOSURE_USD", 5000.0)

	bind(v, "leverage.policy", "LEVERAGE_POLICY", "match")
	bind(v, "leverage.adjustment_ratio", "LEVERAGE_ADJUSTMENT_RATIO", 0.5)
	bind(v, "leverage.min_leverage", "MIN_LEVERAGE", 1)
	bind(v, "leverage.max_leverage", "MAX_LEVERAGE", 10)

	bind(v, "copy_rules.copy_open_positions", "COPY_OPEN_POSITIONS", true)
	bind(v, "copy_rules.copy_existing_orders", "COPY_EXISTING_ORDERS", true)
	bind(v, "copy_rules.auto_adjust_size", "AUTO_ADJUST_SIZE", true)
	bind(v, "copy_rules.use_limit_orders", "USE_LIMIT_ORDERS", false)
	bind(v, "copy_rules.trigger_is_market", "TRIGGER_IS_MARKET", false)
	bind(v, "copy_rules.max_open_trades", "MAX_OPEN_TRADES", 0)
	bind(v, "copy_rules.max_open_orders", "MAX_OPEN_ORDERS", 0)
	bind(v, "copy_rules.max_account_equity", "MAX_ACCOUNT_EQUITY", 0.0)
	bind(v, "copy_rules.min_entry_quality_pct", "MIN_ENTRY_QUALITY_PCT", 5.0)
	bind(v, "copy_rules.max_slippage_pct", "MAX_SLIPPAGE_PCT", 3.0)
	bind(v, "copy_rules.min_position_notional_usd", "MIN_POSITION_NOTIONAL_USD", 10.0)
	bindCSV(v, "copy_rules.blocked_assets", "BLOCKED_ASSETS")

	bind(v, "simulated.enabled", "SIMULATED_TRADING", false)
	bind(v, "simulated.account_balance", "SIMULATED_ACCOUNT_BALANCE", 1000.0)

	bind(v, "logging.level", "LOG_LEVEL", "info")
	bind(v, "logging.format", "LOG_FORMAT", "text")

	bind(v, "store.checkpoint_dir", "CHECKPOINT_DIR", "./data")

	bind(v, "dashboard.enabled", "DASHBOARD_ENABLED", false)
	bind(v, "dashboard.port", "DASHBOARD_PORT", 8090)
	bindCSV(v, "dashboard.allowed_origins", "DASHBOARD_ALLOWED_ORIGINS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bind registers an env var for a key and seeds its default, so Unmarshal
// sees a value even when the env var is unset.
func bind(v *viper.Viper, key, envVar string, def any) {
	_ = v.BindEnv(key, envVar)
	v.SetDefault(key, def)
}

// bindCSV registers a comma-separated env var, splitting and upper-casing
// each entry (asset symbols are compared upper-case throughout).
func bindCSV(v *viper.Viper, key, envVar string) {
	_ = v.BindEnv(key, envVar)
	raw := v.GetString(key)
	if raw == "" {
		v.SetDefault(key, []string{})
		return
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.ToUpper(strings.TrimSpace(p))
	}
	v.Set(key, parts)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Hyperliquid.TargetAddress == "" {
		return fmt.Errorf("TARGET_WALLET_ADDRESS is required")
	}
	if c.Hyperliquid.FollowerAddress == "" {
		return fmt.Errorf("FOLLOWER_WALLET_ADDRESS is required")
	}
	if c.Hyperliquid.FollowerPrivateKey == "" && !c.Simulated.Enabled {
		return fmt.Errorf("FOLLOWER_PRIVATE_KEY is required unless SIMULATED_TRADING is set")
	}
	switch c.Sizing.Mode {
	case "proportional", "fixed":
	default:
		return fmt.Errorf("SIZING_MODE must be 'proportional' or 'fixed', got %q", c.Sizing.Mode)
	}
	if c.Sizing.MaxPositionSizeUSD <= 0 {
		return fmt.Errorf("MAX_POSITION_SIZE_USD must be > 0")
	}
	if c.Sizing.MaxTotalExposureUSD <= 0 {
		return fmt.Errorf("MAX_TOTAL_EXPOSURE_USD must be > 0")
	}
	switch c.Leverage.Policy {
	case "match", "legacy":
	default:
		return fmt.Errorf("LEVERAGE_POLICY must be 'match' or 'legacy', got %q", c.Leverage.Policy)
	}
	if c.CopyRules.MinPositionNotional <= 0 {
		return fmt.Errorf("MIN_POSITION_NOTIONAL_USD must be > 0")
	}
	return nil
}

// BlockedSet returns the blocklist as a lookup set of upper-case symbols.
func (c *Config) BlockedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.CopyRules.BlockedAssets))
	for _, a := range c.CopyRules.BlockedAssets {
		set[strings.ToUpper(a)] = struct{}{}
	}
	return set
}
