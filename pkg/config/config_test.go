package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
strategy: momentum
mode: historical
frequency: minute
start: "2024-01-02"
end: "2024-06-28"
symbols: ["600000", "000001"]
benchmark: "000300"
account:
  start_cash: 2000000
  lot_size: 100
costs:
  commission_rate: 0.00025
  min_commission: 5
  tax_rate: 0.001
  slippage: 0.02
  limit_rate: 0.1
data:
  duckdb_path: bars.duckdb
journal_path: journal.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "momentum", cfg.Strategy)
	assert.Equal(t, "minute", cfg.Frequency)
	assert.Equal(t, []string{"600000", "000001"}, cfg.Symbols)
	assert.Equal(t, 2_000_000.0, cfg.Account.StartCash)
	assert.Equal(t, 0.00025, cfg.Costs.CommissionRate)
	assert.Equal(t, "bars.duckdb", cfg.Data.DuckDBPath)

	start, err := cfg.StartTime()
	require.NoError(t, err)
	assert.Equal(t, 2024, start.Year())
	assert.Equal(t, "2000000", cfg.StartCash().String())
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, `
strategy: momentum
start: "2024-01-02"
end: "2024-06-28"
symbols: ["600000"]
benchmark: "000300"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "historical", cfg.Mode)
	assert.Equal(t, "day", cfg.Frequency)
	assert.Equal(t, int64(100), cfg.Account.LotSize)
	assert.Equal(t, 1_000_000.0, cfg.Account.StartCash)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Strategy = "test"
		cfg.Start = "2024-01-02"
		cfg.End = "2024-06-28"
		cfg.Symbols = []string{"600000"}
		cfg.Benchmark = "000300"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty strategy", func(c *Config) { c.Strategy = "" }},
		{"bad mode", func(c *Config) { c.Mode = "replay" }},
		{"bad frequency", func(c *Config) { c.Frequency = "hourly" }},
		{"malformed start", func(c *Config) { c.Start = "01/02/2024" }},
		{"malformed end", func(c *Config) { c.End = "June 28" }},
		{"end before start", func(c *Config) { c.Start, c.End = c.End, c.Start }},
		{"live with day frequency", func(c *Config) { c.Mode = "live" }},
		{"historical with tick frequency", func(c *Config) { c.Frequency = "tick" }},
		{"zero cash", func(c *Config) { c.Account.StartCash = 0 }},
		{"negative lot", func(c *Config) { c.Account.LotSize = -100 }},
		{"negative commission", func(c *Config) { c.Costs.CommissionRate = -0.01 }},
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"no benchmark", func(c *Config) { c.Benchmark = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MalformedYaml(t *testing.T) {
	path := writeConfig(t, "strategy: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
