// Package config defines all configuration for the arbitrage daemon.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARBD_* environment variables.
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
	DryRun        bool                `mapstructure:"dry_run"`
	VenueA        VenueConfig         `mapstructure:"venue_a"`
	VenueB        VenueConfig         `mapstructure:"venue_b"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Signal        SignalConfig        `mapstructure:"signal"`
	Risk          RiskConfig          `mapstructure:"risk"`
	Execution     ExecutionConfig     `mapstructure:"execution"`
	Store         StoreConfig         `mapstructure:"store"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// VenueConfig holds connection and auth material for one venue adapter.
// Both venues are reachable through the same exchange.VenueAdapter
// capability interface; which concrete implementation is built from this
// config is decided by Kind.
type VenueConfig struct {
	Kind string `mapstructure:"kind"` // "clob" or "onchain"

	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSURL       string `mapstructure:"ws_url"`

	// CLOB-style (REST+WS, API-key) auth.
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`

	// On-chain-settled (EIP-712) auth.
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// RegistryConfig controls how the market registry ingests pairs and fee
// packs from the external matcher.
type RegistryConfig struct {
	MatcherBaseURL  string        `mapstructure:"matcher_base_url"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	AcceptScore     float64       `mapstructure:"llm_accept_score"`
}

// SignalConfig tunes the edge computation and lead-lag routing hint.
type SignalConfig struct {
	MinNetEdgeCents  float64       `mapstructure:"min_net_edge_cents"`
	FreshnessBudget  time.Duration `mapstructure:"freshness_budget_ms"`
	IntendedQty      float64       `mapstructure:"intended_qty"`
	BarDuration      time.Duration `mapstructure:"bar_duration_ms"`
	XCorrWindowBars  int           `mapstructure:"xcorr_window_bars"`
	XCorrMaxLagBars  int           `mapstructure:"xcorr_max_lag_bars"`
}

// RiskConfig sets the hard admission predicates of §4.5.
type RiskConfig struct {
	PairsMax               int     `mapstructure:"pairs_max"`
	VenueCapUSD            float64 `mapstructure:"venue_cap_usd"`
	PerContractExposureUSD float64 `mapstructure:"per_contract_exposure_usd"`
	StopsDailyPct          float64 `mapstructure:"stops_daily_pct"`
	StopsWeeklyPct         float64 `mapstructure:"stops_weekly_pct"`
	StopsMonthlyPct        float64 `mapstructure:"stops_monthly_pct"`
	MinHedgeProbability    float64 `mapstructure:"min_hedge_probability"`
	EquityUSD              float64 `mapstructure:"equity_usd"`
}

// ExecutionConfig tunes the hedged-execution state machine timeouts.
type ExecutionConfig struct {
	HedgeTimeout        time.Duration `mapstructure:"hedge_timeout_ms"`
	UnwindBudget        time.Duration `mapstructure:"unwind_budget_ms"`
	BackoffMax          time.Duration `mapstructure:"backoff_max_ms"`
	UnwindMaxRetries    int           `mapstructure:"unwind_max_retries"`
	AdverseMoveCents    float64       `mapstructure:"adverse_move_cents"`
	AdverseMoveDuration time.Duration `mapstructure:"adverse_move_duration_ms"`
}

// StoreConfig sets where trade records and positions are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig controls the event-bus-backed HTTP/WS surface.
type ObservabilityConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	BusQueueDepth  int      `mapstructure:"bus_queue_depth"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ARBD_VENUE_A_PRIVATE_KEY, ARBD_VENUE_A_API_SECRET, ...
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyVenueEnvOverrides("ARBD_VENUE_A_", &cfg.VenueA)
	applyVenueEnvOverrides("ARBD_VENUE_B_", &cfg.VenueB)
	if os.Getenv("ARBD_DRY_RUN") == "true" || os.Getenv("ARBD_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

func applyVenueEnvOverrides(prefix string, vc *VenueConfig) {
	if v := os.Getenv(prefix + "PRIVATE_KEY"); v != "" {
		vc.PrivateKey = v
	}
	if v := os.Getenv(prefix + "API_KEY"); v != "" {
		vc.APIKey = v
	}
	if v := os.Getenv(prefix + "API_SECRET"); v != "" {
		vc.APISecret = v
	}
	if v := os.Getenv(prefix + "PASSPHRASE"); v != "" {
		vc.Passphrase = v
	}
}

// Validate checks all required fields and value ranges, and fills in the
// spec-mandated defaults for anything left at its zero value.
func (c *Config) Validate() error {
	for name, vc := range map[string]*VenueConfig{"venue_a": &c.VenueA, "venue_b": &c.VenueB} {
		if vc.Kind != "clob" && vc.Kind != "onchain" {
			return fmt.Errorf("%s.kind must be \"clob\" or \"onchain\"", name)
		}
		if vc.RESTBaseURL == "" {
			return fmt.Errorf("%s.rest_base_url is required", name)
		}
		if vc.Kind == "onchain" {
			if vc.PrivateKey == "" {
				return fmt.Errorf("%s.private_key is required for an onchain venue", name)
			}
			if vc.ChainID == 0 {
				return fmt.Errorf("%s.chain_id is required for an onchain venue", name)
			}
		}
	}

	c.applyDefaults()

	if c.Risk.PairsMax <= 0 {
		return fmt.Errorf("risk.pairs_max must be > 0")
	}
	if c.Risk.VenueCapUSD <= 0 {
		return fmt.Errorf("risk.venue_cap_usd must be > 0")
	}
	if c.Risk.PerContractExposureUSD <= 0 {
		return fmt.Errorf("risk.per_contract_exposure_usd must be > 0")
	}
	if c.Execution.HedgeTimeout <= 0 {
		return fmt.Errorf("execution.hedge_timeout_ms must be > 0")
	}
	if c.Signal.XCorrMaxLagBars >= c.Signal.XCorrWindowBars {
		return fmt.Errorf("signal.xcorr_max_lag_bars must be less than signal.xcorr_window_bars")
	}
	return nil
}

// applyDefaults fills spec §6's defaults for any zero-valued tunable.
// Config files are expected to set these explicitly in production; the
// defaults exist so a minimal config is still runnable in dry-run mode.
func (c *Config) applyDefaults() {
	if c.Signal.MinNetEdgeCents == 0 {
		c.Signal.MinNetEdgeCents = 2.5
	}
	if c.Signal.FreshnessBudget == 0 {
		c.Signal.FreshnessBudget = 2000 * time.Millisecond
	}
	if c.Signal.BarDuration == 0 {
		c.Signal.BarDuration = 5000 * time.Millisecond
	}
	if c.Signal.XCorrWindowBars == 0 {
		c.Signal.XCorrWindowBars = 120
	}
	if c.Signal.XCorrMaxLagBars == 0 {
		c.Signal.XCorrMaxLagBars = 6
	}
	if c.Execution.HedgeTimeout == 0 {
		c.Execution.HedgeTimeout = 250 * time.Millisecond
	}
	if c.Execution.UnwindBudget == 0 {
		c.Execution.UnwindBudget = 800 * time.Millisecond
	}
	if c.Execution.BackoffMax == 0 {
		c.Execution.BackoffMax = 800 * time.Millisecond
	}
	if c.Execution.UnwindMaxRetries == 0 {
		c.Execution.UnwindMaxRetries = 3
	}
	if c.Execution.AdverseMoveCents == 0 {
		c.Execution.AdverseMoveCents = 1.5
	}
	if c.Execution.AdverseMoveDuration == 0 {
		c.Execution.AdverseMoveDuration = 5000 * time.Millisecond
	}
	if c.Risk.PairsMax == 0 {
		c.Risk.PairsMax = 8
	}
	if c.Risk.VenueCapUSD == 0 {
		c.Risk.VenueCapUSD = 5000
	}
	if c.Risk.PerContractExposureUSD == 0 {
		c.Risk.PerContractExposureUSD = 250
	}
	if c.Risk.StopsDailyPct == 0 {
		c.Risk.StopsDailyPct = 1
	}
	if c.Risk.StopsWeeklyPct == 0 {
		c.Risk.StopsWeeklyPct = 3
	}
	if c.Risk.StopsMonthlyPct == 0 {
		c.Risk.StopsMonthlyPct = 5
	}
	if c.Risk.MinHedgeProbability == 0 {
		c.Risk.MinHedgeProbability = 0.99
	}
	if c.Registry.AcceptScore == 0 {
		c.Registry.AcceptScore = 0.92
	}
	if c.Observability.BusQueueDepth == 0 {
		c.Observability.BusQueueDepth = 1024
	}
}
