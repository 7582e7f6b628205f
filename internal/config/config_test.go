package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DYDX_MNEMONIC", "test mnemonic from env")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	cfg, err := Load(writeConfig(t, "dydx:\n  chain_id: dydx-mainnet-1\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Dydx.Mnemonic != "test mnemonic from env" {
		t.Error("mnemonic not taken from the environment")
	}
	if cfg.Dydx.ValidatorRestURL == "" || cfg.Signals.ProviderURL == "" {
		t.Error("endpoint defaults not applied")
	}
	if cfg.Trading.CheckIntervalMs != 180000 {
		t.Errorf("check interval = %d", cfg.Trading.CheckIntervalMs)
	}
	if cfg.Trading.MaxPositions != 8 || cfg.Trading.MinTradeSizeUSD != 10 {
		t.Errorf("trading defaults = %d positions, $%v min", cfg.Trading.MaxPositions, cfg.Trading.MinTradeSizeUSD)
	}
	if cfg.Trading.StopLossPercent != 0.05 || cfg.Trading.TakeProfitPercent != 0.10 {
		t.Errorf("exit defaults = %v / %v", cfg.Trading.StopLossPercent, cfg.Trading.TakeProfitPercent)
	}
	if cfg.Scanner.ResumeGapBlocks != 10 || cfg.Scanner.BackfillBatchSize != 2000 {
		t.Errorf("scanner defaults = %d gap, %d batch", cfg.Scanner.ResumeGapBlocks, cfg.Scanner.BackfillBatchSize)
	}
	if len(cfg.Markets) != 4 {
		t.Errorf("default market table has %d entries", len(cfg.Markets))
	}
	if len(cfg.Trading.Universe) == 0 {
		t.Error("default universe empty")
	}

	if cfg.CheckInterval() != 3*time.Minute {
		t.Errorf("CheckInterval = %v", cfg.CheckInterval())
	}
	if cfg.ScanPollInterval() != time.Second {
		t.Errorf("ScanPollInterval = %v", cfg.ScanPollInterval())
	}
	if cfg.SignalTimeout() != 10*time.Second {
		t.Errorf("SignalTimeout = %v", cfg.SignalTimeout())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DYDX_MNEMONIC", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	body := `
trading:
  universe: [BTC]
  max_positions: 2
  stop_loss_percent: 0.03
scanner:
  poll_interval_ms: 500
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.MaxPositions != 2 || cfg.Trading.StopLossPercent != 0.03 {
		t.Errorf("overrides lost: %d / %v", cfg.Trading.MaxPositions, cfg.Trading.StopLossPercent)
	}
	if cfg.ScanPollInterval() != 500*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.ScanPollInterval())
	}
	// Untouched fields still take defaults.
	if cfg.Trading.TakeProfitPercent != 0.10 {
		t.Errorf("take profit = %v", cfg.Trading.TakeProfitPercent)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		setDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"duplicate market", func(c *Config) {
			c.Markets = append(c.Markets, MarketConfig{Ticker: "BTC", ClobPairID: 9, TicksPerDollar: 1})
		}, true},
		{"empty ticker", func(c *Config) {
			c.Markets = append(c.Markets, MarketConfig{ClobPairID: 9, TicksPerDollar: 1})
		}, true},
		{"non-positive scaling", func(c *Config) {
			c.Markets[0].TicksPerDollar = 0
		}, true},
		{"universe not in market table", func(c *Config) {
			c.Trading.Universe = append(c.Trading.Universe, "DOGE")
		}, true},
		{"max hold below hold", func(c *Config) {
			c.Trading.MaxHoldDurationHours = 2
		}, true},
		{"telegram enabled without token", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.ChatID = 42
		}, true},
		{"telegram enabled without chat id", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.BotToken = "token"
		}, true},
		{"telegram fully configured", func(c *Config) {
			c.Telegram.Enabled = true
			c.Telegram.BotToken = "token"
			c.Telegram.ChatID = 42
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequireMnemonic(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireMnemonic(); err == nil {
		t.Error("expected error with no mnemonic")
	}
	cfg.Dydx.Mnemonic = "words"
	if err := cfg.RequireMnemonic(); err != nil {
		t.Errorf("RequireMnemonic: %v", err)
	}
}
