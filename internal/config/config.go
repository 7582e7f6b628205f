package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Dydx     DydxConfig     `yaml:"dydx"`
	Signals  SignalsConfig  `yaml:"signals"`
	Trading  TradingConfig  `yaml:"trading"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Markets  []MarketConfig `yaml:"markets"`
	Telegram TelegramConfig `yaml:"telegram"`
	Web      WebConfig      `yaml:"web"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DydxConfig struct {
	// Mnemonic is taken from the DYDX_MNEMONIC environment variable and is
	// never read from the config file.
	Mnemonic         string  `yaml:"-"`
	ValidatorRestURL string  `yaml:"validator_rest_url"`
	ChainID          string  `yaml:"chain_id"`
	SubaccountNumber uint32  `yaml:"subaccount_number"`
	InitialEquity    float64 `yaml:"initial_equity"`
}

type SignalsConfig struct {
	ProviderURL    string `yaml:"provider_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TradingConfig struct {
	Universe []string `yaml:"universe"`

	CheckIntervalMs      int     `yaml:"check_interval_ms"`
	HoldDurationHours    float64 `yaml:"hold_duration_hours"`
	MaxHoldDurationHours float64 `yaml:"max_hold_duration_hours"`

	MinSignalStrength   float64 `yaml:"min_signal_strength"`
	MinSignalConfidence float64 `yaml:"min_signal_confidence"`

	MaxPositionRatio       float64 `yaml:"max_position_ratio"`
	MaxSinglePositionRatio float64 `yaml:"max_single_position_ratio"`
	MaxPositions           int     `yaml:"max_positions"`
	MinTradeSizeUSD        float64 `yaml:"min_trade_size_usd"`

	StopLossPercent     float64 `yaml:"stop_loss_percent"`
	TakeProfitPercent   float64 `yaml:"take_profit_percent"`
	TrailingStopTrigger float64 `yaml:"trailing_stop_trigger"`
}

type ScannerConfig struct {
	PollIntervalMs     int `yaml:"poll_interval_ms"`
	BackfillBatchSize  int `yaml:"backfill_batch_size"`
	BackfillDelayMs    int `yaml:"backfill_delay_ms"`
	BackfillPauseSec   int `yaml:"backfill_pause_sec"`
	BackfillMaxBlocks  int `yaml:"backfill_max_blocks"`
	ResumeGapBlocks    int `yaml:"resume_gap_blocks"`
}

type MarketConfig struct {
	Ticker           string  `yaml:"ticker"`
	ClobPairID       uint32  `yaml:"clob_pair_id"`
	AtomicResolution int32   `yaml:"atomic_resolution"`
	TicksPerDollar   float64 `yaml:"ticks_per_dollar"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"-"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML config, pulls secrets from the environment (after a
// best-effort .env load), applies defaults, and validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Dydx.Mnemonic = os.Getenv("DYDX_MNEMONIC")
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Dydx.ValidatorRestURL == "" {
		cfg.Dydx.ValidatorRestURL = "https://dydx-rest.publicnode.com"
	}
	if cfg.Dydx.ChainID == "" {
		cfg.Dydx.ChainID = "dydx-mainnet-1"
	}
	if cfg.Dydx.InitialEquity == 0 {
		cfg.Dydx.InitialEquity = 100
	}
	if cfg.Signals.ProviderURL == "" {
		cfg.Signals.ProviderURL = "http://127.0.0.1:8742"
	}
	if cfg.Signals.TimeoutSeconds == 0 {
		cfg.Signals.TimeoutSeconds = 10
	}
	if len(cfg.Trading.Universe) == 0 {
		cfg.Trading.Universe = []string{"BTC", "ETH", "SOL", "LINK"}
	}
	if cfg.Trading.CheckIntervalMs == 0 {
		cfg.Trading.CheckIntervalMs = 180000
	}
	if cfg.Trading.HoldDurationHours == 0 {
		cfg.Trading.HoldDurationHours = 4
	}
	if cfg.Trading.MaxHoldDurationHours == 0 {
		cfg.Trading.MaxHoldDurationHours = 8
	}
	if cfg.Trading.MinSignalStrength == 0 {
		cfg.Trading.MinSignalStrength = 0.3
	}
	if cfg.Trading.MinSignalConfidence == 0 {
		cfg.Trading.MinSignalConfidence = 0.4
	}
	if cfg.Trading.MaxPositionRatio == 0 {
		cfg.Trading.MaxPositionRatio = 0.8
	}
	if cfg.Trading.MaxSinglePositionRatio == 0 {
		cfg.Trading.MaxSinglePositionRatio = 0.25
	}
	if cfg.Trading.MaxPositions == 0 {
		cfg.Trading.MaxPositions = 8
	}
	if cfg.Trading.MinTradeSizeUSD == 0 {
		cfg.Trading.MinTradeSizeUSD = 10
	}
	if cfg.Trading.StopLossPercent == 0 {
		cfg.Trading.StopLossPercent = 0.05
	}
	if cfg.Trading.TakeProfitPercent == 0 {
		cfg.Trading.TakeProfitPercent = 0.10
	}
	if cfg.Trading.TrailingStopTrigger == 0 {
		cfg.Trading.TrailingStopTrigger = 0.05
	}
	if cfg.Scanner.PollIntervalMs == 0 {
		cfg.Scanner.PollIntervalMs = 1000
	}
	if cfg.Scanner.BackfillBatchSize == 0 {
		cfg.Scanner.BackfillBatchSize = 2000
	}
	if cfg.Scanner.BackfillDelayMs == 0 {
		cfg.Scanner.BackfillDelayMs = 200
	}
	if cfg.Scanner.BackfillPauseSec == 0 {
		cfg.Scanner.BackfillPauseSec = 3
	}
	if cfg.Scanner.BackfillMaxBlocks == 0 {
		cfg.Scanner.BackfillMaxBlocks = 200000
	}
	if cfg.Scanner.ResumeGapBlocks == 0 {
		cfg.Scanner.ResumeGapBlocks = 10
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = DefaultMarkets()
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// DefaultMarkets is the static clob pair table for the majors.
func DefaultMarkets() []MarketConfig {
	return []MarketConfig{
		{Ticker: "BTC", ClobPairID: 0, AtomicResolution: -10, TicksPerDollar: 100},
		{Ticker: "ETH", ClobPairID: 1, AtomicResolution: -9, TicksPerDollar: 1000},
		{Ticker: "LINK", ClobPairID: 2, AtomicResolution: -6, TicksPerDollar: 1e6},
		{Ticker: "SOL", ClobPairID: 5, AtomicResolution: -7, TicksPerDollar: 1e5},
	}
}

// Validate checks for fatal misconfiguration. The mnemonic is checked
// separately by RequireMnemonic so dry runs can start unsigned.
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("markets table is empty")
	}
	seen := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if m.Ticker == "" {
			return fmt.Errorf("market entry with empty ticker")
		}
		if m.TicksPerDollar <= 0 {
			return fmt.Errorf("market %s: ticks_per_dollar must be positive", m.Ticker)
		}
		if seen[m.Ticker] {
			return fmt.Errorf("duplicate market entry for %s", m.Ticker)
		}
		seen[m.Ticker] = true
	}
	for _, t := range c.Trading.Universe {
		if !seen[t] {
			return fmt.Errorf("universe ticker %s has no market table entry", t)
		}
	}
	if c.Trading.MaxHoldDurationHours < c.Trading.HoldDurationHours {
		return fmt.Errorf("max_hold_duration_hours must be >= hold_duration_hours")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// RequireMnemonic is the live-trading gate; called from main unless --dry-run.
func (c *Config) RequireMnemonic() error {
	if c.Dydx.Mnemonic == "" {
		return fmt.Errorf("DYDX_MNEMONIC is required for live trading")
	}
	return nil
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Trading.CheckIntervalMs) * time.Millisecond
}

func (c *Config) ScanPollInterval() time.Duration {
	return time.Duration(c.Scanner.PollIntervalMs) * time.Millisecond
}

func (c *Config) SignalTimeout() time.Duration {
	return time.Duration(c.Signals.TimeoutSeconds) * time.Second
}
