// Package config loads ledgerd settings from flags, LEDGER_* environment
// variables, an optional .env file and an optional YAML config file, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"fractional-ledger/internal/domain"
	"fractional-ledger/internal/fixedpoint"
)

const (
	EnvPrefix  = "LEDGER"
	ConfigName = "ledgerd"
	ConfigType = "yaml"
)

// Config holds every ledgerd setting.
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Storage
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
	UseMemory     bool   `mapstructure:"use_memory"`

	// Messaging
	NATSURL          string `mapstructure:"nats_url"`
	ExecutionSubject string `mapstructure:"execution_subject"`
	PaymentSubject   string `mapstructure:"payment_subject"`
	PayoutSubject    string `mapstructure:"payout_subject"`

	// Oracle
	OracleWSEndpoint   string        `mapstructure:"oracle_ws_endpoint"`
	OracleMaxStaleness time.Duration `mapstructure:"oracle_max_staleness"`
	OraclePairs        string        `mapstructure:"oracle_pairs"` // comma-separated BASE/QUOTE

	// Engines
	SettlementCurrency     string        `mapstructure:"settlement_currency"`
	IntakePrincipal        string        `mapstructure:"intake_principal"`
	AdminPrincipal         string        `mapstructure:"admin_principal"`
	DustFoldThreshold      string        `mapstructure:"dust_fold_threshold"` // base units
	DistributionBatchSize  int           `mapstructure:"distribution_batch_size"`
	GovernanceThresholdBps int           `mapstructure:"governance_threshold_bps"`
	VotingPeriod           time.Duration `mapstructure:"voting_period"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

var defaults = map[string]any{
	"http_addr":                ":8080",
	"metrics_addr":             ":9090",
	"postgres_dsn":             "",
	"clickhouse_dsn":           "",
	"use_memory":               false,
	"nats_url":                 "",
	"execution_subject":        "ledger.governance.execute",
	"payment_subject":          "ledger.payments",
	"payout_subject":           "ledger.payouts",
	"oracle_ws_endpoint":       "",
	"oracle_max_staleness":     5 * time.Minute,
	"oracle_pairs":             "",
	"settlement_currency":      "USD",
	"intake_principal":         "intake",
	"admin_principal":          "",
	"dust_fold_threshold":      "0",
	"distribution_batch_size":  500,
	"governance_threshold_bps": 1000,
	"voting_period":            72 * time.Hour,
	"log_level":                "info",
	"log_format":               "json",
}

var usage = map[string]string{
	"http_addr":                "HTTP API listen address",
	"metrics_addr":             "Prometheus metrics listen address",
	"postgres_dsn":             "PostgreSQL connection string",
	"clickhouse_dsn":           "ClickHouse connection string",
	"use_memory":               "Use in-memory storage instead of PostgreSQL/ClickHouse",
	"nats_url":                 "NATS server URL (empty disables messaging)",
	"execution_subject":        "NATS subject prefix for proposal execution orders",
	"payment_subject":          "NATS subject incoming payments arrive on",
	"payout_subject":           "NATS subject payouts are requested on",
	"oracle_ws_endpoint":       "Price feed WebSocket endpoint (empty uses settlement-currency only)",
	"oracle_max_staleness":     "Maximum age of a price quote",
	"oracle_pairs":             "Comma-separated BASE/QUOTE pairs to subscribe to, e.g. EUR/USD",
	"settlement_currency":      "Currency holders are paid in",
	"intake_principal":         "Principal allowed to distribute payments",
	"admin_principal":          "Principal allowed to register assets and create pools",
	"dust_fold_threshold":      "Dust amount (base units) folded into the next payment, 0 disables",
	"distribution_batch_size":  "Holders recorded per distribution page, 0 for one page",
	"governance_threshold_bps": "Share of supply required to propose, in basis points",
	"voting_period":            "Proposal voting period",
	"log_level":                "Log level (debug, info, warn, error)",
	"log_format":               "Log format (json, console)",
}

// FlagName returns the command-line flag name of a config key.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterFlags adds a flag for every config key to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	for key, def := range defaults {
		name := FlagName(key)
		switch d := def.(type) {
		case string:
			fs.String(name, d, usage[key])
		case bool:
			fs.Bool(name, d, usage[key])
		case int:
			fs.Int(name, d, usage[key])
		case time.Duration:
			fs.Duration(name, d, usage[key])
		}
	}
}

// Load builds the configuration. fs may be nil; envFile and configFile may
// be empty. A missing envFile is not an error.
func Load(fs *pflag.FlagSet, envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType(ConfigType)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if fs != nil {
		for key := range defaults {
			if f := fs.Lookup(FlagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if !c.UseMemory && (c.PostgresDSN == "" || c.ClickHouseDSN == "") {
		return errors.New("postgres_dsn and clickhouse_dsn are required (set use_memory for in-memory storage)")
	}
	if c.AdminPrincipal == "" {
		return errors.New("admin_principal is required")
	}
	if c.IntakePrincipal == "" {
		return errors.New("intake_principal is required")
	}
	if c.SettlementCurrency == "" {
		return errors.New("settlement_currency is required")
	}
	if c.GovernanceThresholdBps < 0 || c.GovernanceThresholdBps > domain.MaxFeeBps {
		return fmt.Errorf("governance_threshold_bps %d out of range [0, %d]", c.GovernanceThresholdBps, domain.MaxFeeBps)
	}
	if c.DistributionBatchSize < 0 {
		return fmt.Errorf("distribution_batch_size %d is negative", c.DistributionBatchSize)
	}
	if c.VotingPeriod <= 0 {
		return fmt.Errorf("voting_period %s must be positive", c.VotingPeriod)
	}
	if _, err := c.DustThreshold(); err != nil {
		return err
	}
	return nil
}

// DustThreshold parses the dust fold threshold.
func (c *Config) DustThreshold() (*uint256.Int, error) {
	if c.DustFoldThreshold == "" {
		return new(uint256.Int), nil
	}
	v, err := fixedpoint.ParseUnits(c.DustFoldThreshold)
	if err != nil {
		return nil, fmt.Errorf("dust_fold_threshold: %w", err)
	}
	return v, nil
}

// Pairs returns the oracle pairs, upper-cased, with blanks dropped.
func (c *Config) Pairs() []string {
	var pairs []string
	for _, p := range strings.Split(c.OraclePairs, ",") {
		if p = strings.TrimSpace(p); p != "" {
			pairs = append(pairs, strings.ToUpper(p))
		}
	}
	return pairs
}

// ThresholdBps returns the governance threshold as basis points.
func (c *Config) ThresholdBps() uint16 {
	return uint16(c.GovernanceThresholdBps)
}
