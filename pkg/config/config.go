package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jhudec/sandglass/pkg/clock"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// Config describes one simulation run. Validation is strict: a malformed
// configuration stops the run before the clock starts.
type Config struct {
	Strategy  string `yaml:"strategy"`
	Mode      string `yaml:"mode"`
	Frequency string `yaml:"frequency"`

	Start string `yaml:"start"`
	End   string `yaml:"end"`

	Account AccountConfig `yaml:"account"`
	Costs   CostsConfig   `yaml:"costs"`
	Data    DataConfig    `yaml:"data"`

	Symbols   []string `yaml:"symbols"`
	Benchmark string   `yaml:"benchmark"`

	SnapshotDir string `yaml:"snapshot_dir"`
	JournalPath string `yaml:"journal_path"`
}

type AccountConfig struct {
	StartCash float64 `yaml:"start_cash"`
	LotSize   int64   `yaml:"lot_size"`
}

type CostsConfig struct {
	CommissionRate float64 `yaml:"commission_rate"`
	MinCommission  float64 `yaml:"min_commission"`
	TaxRate        float64 `yaml:"tax_rate"`
	Slippage       float64 `yaml:"slippage"`
	LimitRate      float64 `yaml:"limit_rate"`
}

type DataConfig struct {
	DuckDBPath string `yaml:"duckdb_path"`
	HistDir    string `yaml:"hist_dir"`
	FeedUrl    string `yaml:"feed_url"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Strategy:  "default",
		Mode:      "historical",
		Frequency: "day",
		Account: AccountConfig{
			StartCash: 1_000_000,
			LotSize:   100,
		},
		Costs: CostsConfig{
			CommissionRate: 0.0003,
			MinCommission:  5,
			TaxRate:        0.001,
			Slippage:       0.01,
			LimitRate:      0.1,
		},
		SnapshotDir: "snapshots",
	}
}

func (c *Config) Validate() error {
	if c.Strategy == "" {
		return fmt.Errorf("config: strategy name is required")
	}
	if _, err := clock.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	freq, err := clock.ParseFrequency(c.Frequency)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	mode, _ := clock.ParseMode(c.Mode)

	if mode == clock.ModeHistorical {
		start, err := c.StartTime()
		if err != nil {
			return err
		}
		end, err := c.EndTime()
		if err != nil {
			return err
		}
		if !end.After(start) {
			return fmt.Errorf("config: end %q is not after start %q", c.End, c.Start)
		}
	}
	if mode == clock.ModeLive && freq == clock.FreqDay {
		return fmt.Errorf("config: live mode requires minute or tick frequency")
	}
	if mode == clock.ModeHistorical && freq == clock.FreqTick {
		return fmt.Errorf("config: tick frequency is live-only, historical replay has minute bars at best")
	}

	if c.Account.StartCash <= 0 {
		return fmt.Errorf("config: start_cash must be positive")
	}
	if c.Account.LotSize <= 0 {
		return fmt.Errorf("config: lot_size must be positive")
	}
	if c.Costs.CommissionRate < 0 || c.Costs.TaxRate < 0 || c.Costs.Slippage < 0 {
		return fmt.Errorf("config: costs must not be negative")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: at least one symbol is required")
	}
	if c.Benchmark == "" {
		return fmt.Errorf("config: benchmark symbol is required")
	}
	return nil
}

func (c *Config) StartTime() (time.Time, error) {
	t, err := time.Parse(time.DateOnly, c.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: invalid start date %q: %w", c.Start, err)
	}
	return t, nil
}

func (c *Config) EndTime() (time.Time, error) {
	t, err := time.Parse(time.DateOnly, c.End)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: invalid end date %q: %w", c.End, err)
	}
	return t, nil
}

func (c *Config) StartCash() fixed.Point {
	return fixed.FromFloat64(c.Account.StartCash)
}
