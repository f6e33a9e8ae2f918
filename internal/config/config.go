// Package config defines all configuration for the market-making bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields supplied via KALSHI_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Market    MarketConfig    `mapstructure:"market"`
	API       APIConfig       `mapstructure:"api"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// MarketConfig selects the single market this instance quotes.
type MarketConfig struct {
	Ticker string `mapstructure:"ticker"`
}

// APIConfig holds the Kalshi API endpoint and credentials.
// KeyID and PrivateKeyPEM come from KALSHI_API_KEY_ID / KALSHI_PRIVATE_KEY;
// the private key is a multi-line PEM-encoded RSA key.
type APIConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	KeyID         string `mapstructure:"key_id"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
}

// StrategyConfig tunes the two-sided quoter.
//
//   - SpreadWidth: total quoted spread in cents, half on each side of mid.
//   - QuoteSize: contracts per leg.
//   - RequoteThreshold: legacy midpoint-move trigger in cents; dominated by
//     the calculated-quotes-differ check but kept for tuning experiments.
//   - InventorySkewPerContract: cents of downward quote shift per net long
//     contract (negative net shifts quotes up).
type StrategyConfig struct {
	SpreadWidth              int     `mapstructure:"spread_width"`
	QuoteSize                int     `mapstructure:"quote_size"`
	RequoteThreshold         float64 `mapstructure:"requote_threshold"`
	InventorySkewPerContract int     `mapstructure:"inventory_skew_per_contract"`
}

// RiskConfig sets hard pre-trade limits.
//
//   - MaxPositionSize: cap on |net contracts| per market.
//   - MaxTotalExposure: dollar cap on summed exposure across all positions.
type RiskConfig struct {
	MaxPositionSize  int     `mapstructure:"max_position_size"`
	MaxTotalExposure float64 `mapstructure:"max_total_exposure"`
}

// MaxTotalExposureCents returns the exposure cap in cents.
func (r RiskConfig) MaxTotalExposureCents() int64 {
	return int64(r.MaxTotalExposure * 100)
}

// LoopConfig controls the control loop and fill poller cadence.
type LoopConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	FillPollInterval time.Duration `mapstructure:"fill_poll_interval"`
	FillPollLimit    int           `mapstructure:"fill_poll_limit"`
	MaxRuntime       time.Duration `mapstructure:"max_runtime"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides.
// Credentials use env vars: KALSHI_API_KEY_ID, KALSHI_PRIVATE_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("KALSHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Credentials come from the process environment, never the YAML file
	if id := os.Getenv("KALSHI_API_KEY_ID"); id != "" {
		cfg.API.KeyID = id
	}
	if pem := os.Getenv("KALSHI_PRIVATE_KEY"); pem != "" {
		cfg.API.PrivateKeyPEM = pem
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.elections.kalshi.com")
	v.SetDefault("strategy.spread_width", 4)
	v.SetDefault("strategy.quote_size", 1)
	v.SetDefault("strategy.inventory_skew_per_contract", 1)
	v.SetDefault("risk.max_position_size", 10)
	v.SetDefault("risk.max_total_exposure", 10)
	v.SetDefault("loop.interval", 5*time.Second)
	v.SetDefault("loop.fill_poll_interval", 2*time.Second)
	v.SetDefault("loop.fill_poll_limit", 100)
	v.SetDefault("loop.max_runtime", 30*time.Minute)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.port", 8080)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Market.Ticker == "" {
		return fmt.Errorf("market.ticker is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.KeyID == "" {
		return fmt.Errorf("api key id is required (set KALSHI_API_KEY_ID)")
	}
	if c.API.PrivateKeyPEM == "" {
		return fmt.Errorf("private key is required (set KALSHI_PRIVATE_KEY)")
	}
	if c.Strategy.SpreadWidth <= 0 {
		return fmt.Errorf("strategy.spread_width must be > 0")
	}
	if c.Strategy.QuoteSize <= 0 {
		return fmt.Errorf("strategy.quote_size must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be > 0")
	}
	if c.Risk.MaxTotalExposure <= 0 {
		return fmt.Errorf("risk.max_total_exposure must be > 0")
	}
	if c.Loop.Interval <= 0 {
		return fmt.Errorf("loop.interval must be > 0")
	}
	if c.Loop.FillPollInterval <= 0 {
		return fmt.Errorf("loop.fill_poll_interval must be > 0")
	}
	if c.Loop.FillPollLimit <= 0 {
		return fmt.Errorf("loop.fill_poll_limit must be > 0")
	}
	return nil
}
