package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_USE_MEMORY", "true")
	t.Setenv("LEDGER_ADMIN_PRINCIPAL", "admin")

	cfg, err := Load(nil, "", "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "USD", cfg.SettlementCurrency)
	assert.Equal(t, 72*time.Hour, cfg.VotingPeriod)
	assert.Equal(t, uint16(1000), cfg.ThresholdBps())
	assert.Equal(t, 500, cfg.DistributionBatchSize)

	threshold, err := cfg.DustThreshold()
	require.NoError(t, err)
	assert.True(t, threshold.IsZero())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ledgerd.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
use_memory: true
admin_principal: from-file
voting_period: 1h
distribution_batch_size: 50
settlement_currency: EUR
`), 0o600))

	t.Setenv("LEDGER_VOTING_PERIOD", "2h")
	t.Setenv("LEDGER_DISTRIBUTION_BATCH_SIZE", "75")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--distribution-batch-size=100"}))

	cfg, err := Load(fs, "", file)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.AdminPrincipal)
	assert.Equal(t, "EUR", cfg.SettlementCurrency)
	assert.Equal(t, 2*time.Hour, cfg.VotingPeriod)  // env beats file
	assert.Equal(t, 100, cfg.DistributionBatchSize) // flag beats env
	assert.Equal(t, ":9090", cfg.MetricsAddr)       // flag default
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LEDGER_USE_MEMORY=true\nLEDGER_ADMIN_PRINCIPAL=dotenv-admin\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_USE_MEMORY")
		os.Unsetenv("LEDGER_ADMIN_PRINCIPAL")
	})

	cfg, err := Load(nil, envFile, "")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-admin", cfg.AdminPrincipal)

	_, err = Load(nil, filepath.Join(dir, "missing.env"), "")
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			UseMemory:              true,
			AdminPrincipal:         "admin",
			IntakePrincipal:        "intake",
			SettlementCurrency:     "USD",
			GovernanceThresholdBps: 1000,
			VotingPeriod:           time.Hour,
			DustFoldThreshold:      "10",
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no storage", func(c *Config) { c.UseMemory = false }},
		{"no admin", func(c *Config) { c.AdminPrincipal = "" }},
		{"no intake", func(c *Config) { c.IntakePrincipal = "" }},
		{"threshold above 100%", func(c *Config) { c.GovernanceThresholdBps = 10001 }},
		{"negative batch", func(c *Config) { c.DistributionBatchSize = -1 }},
		{"zero voting period", func(c *Config) { c.VotingPeriod = 0 }},
		{"bad dust threshold", func(c *Config) { c.DustFoldThreshold = "1.5" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}

func TestConfig_Pairs(t *testing.T) {
	cfg := &Config{OraclePairs: " eur/usd, ,GBP/USD "}
	assert.Equal(t, []string{"EUR/USD", "GBP/USD"}, cfg.Pairs())

	cfg.OraclePairs = ""
	assert.Empty(t, cfg.Pairs())
}
