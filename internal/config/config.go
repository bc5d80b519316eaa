// Package config loads the rewards service configuration from a YAML file
// with DZ_-prefixed environment overrides. A .env file is honored when
// present so local runs need no exported shell state.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "DZ_"

type Config struct {
	// Environment is the target network: mainnet, testnet, or devnet. Test
	// networks prefix exchange codes with "x".
	Environment string `yaml:"environment"`

	LedgerRPCURL string `yaml:"ledger_rpc_url"`
	SolanaRPCURL string `yaml:"solana_rpc_url"`

	ServiceabilityProgramID      string `yaml:"serviceability_program_id"`
	TelemetryProgramID           string `yaml:"telemetry_program_id"`
	RevenueDistributionProgramID string `yaml:"revenue_distribution_program_id"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Graph     GraphConfig     `yaml:"graph"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Rewards   RewardsConfig   `yaml:"rewards"`

	MetricsAddr string `yaml:"metrics_addr"`
}

type TelemetryConfig struct {
	CoverageThreshold  float64  `yaml:"coverage_threshold"`
	MaxEpochsLookback  uint64   `yaml:"max_epochs_lookback"`
	MinSamplesPerRoute int      `yaml:"min_samples_per_route"`
	DedupWindowMicros  uint64   `yaml:"dedup_window_micros"`
	EnableAccumulator  bool     `yaml:"enable_accumulator"`
	ExcludedProviders  []string `yaml:"excluded_providers"`
}

type GraphConfig struct {
	EdgeBandwidthGbps float64 `yaml:"edge_bandwidth_gbps"`
	DefaultLatencyMs  float64 `yaml:"default_latency_ms"`
	DefaultUptime     float64 `yaml:"default_uptime"`
}

type SchedulerConfig struct {
	Interval               time.Duration `yaml:"interval"`
	StateFile              string        `yaml:"state_file"`
	MaxConsecutiveFailures uint32        `yaml:"max_consecutive_failures"`
	DryRun                 bool          `yaml:"dry_run"`
}

type RewardsConfig struct {
	Pool float64 `yaml:"pool"`
}

// Default returns the configuration used when a field is not set in the file
// or the environment.
func Default() Config {
	return Config{
		Environment:  "testnet",
		LedgerRPCURL: "http://localhost:8899",
		SolanaRPCURL: "https://api.testnet.solana.com",
		Telemetry: TelemetryConfig{
			CoverageThreshold:  0.80,
			MaxEpochsLookback:  5,
			MinSamplesPerRoute: 1,
			DedupWindowMicros:  60_000_000,
			EnableAccumulator:  true,
			ExcludedProviders:  []string{"ripeatlas"},
		},
		Graph: GraphConfig{
			EdgeBandwidthGbps: 10,
			DefaultLatencyMs:  40,
			DefaultUptime:     0.98,
		},
		Scheduler: SchedulerConfig{
			Interval:               10 * time.Minute,
			StateFile:              "rewards-worker.state.json",
			MaxConsecutiveFailures: 5,
		},
		Rewards: RewardsConfig{
			Pool: 1_000_000,
		},
		MetricsAddr: ":2113",
	}
}

// Load reads the YAML file at path (optional), then applies environment
// overrides on top of defaults.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.LedgerRPCURL, "LEDGER_RPC_URL")
	setString(&c.SolanaRPCURL, "SOLANA_RPC_URL")
	setString(&c.ServiceabilityProgramID, "SERVICEABILITY_PROGRAM_ID")
	setString(&c.TelemetryProgramID, "TELEMETRY_PROGRAM_ID")
	setString(&c.RevenueDistributionProgramID, "REVENUE_DISTRIBUTION_PROGRAM_ID")
	setString(&c.Scheduler.StateFile, "STATE_FILE")
	setString(&c.MetricsAddr, "METRICS_ADDR")

	err = errors.Join(err,
		setFloat(&c.Telemetry.CoverageThreshold, "COVERAGE_THRESHOLD"),
		setUint(&c.Telemetry.MaxEpochsLookback, "MAX_EPOCHS_LOOKBACK"),
		setInt(&c.Telemetry.MinSamplesPerRoute, "MIN_SAMPLES_PER_ROUTE"),
		setUint(&c.Telemetry.DedupWindowMicros, "DEDUP_WINDOW_MICROS"),
		setBool(&c.Telemetry.EnableAccumulator, "ENABLE_ACCUMULATOR"),
		setFloat(&c.Graph.EdgeBandwidthGbps, "EDGE_BANDWIDTH_GBPS"),
		setFloat(&c.Graph.DefaultLatencyMs, "DEFAULT_LATENCY_MS"),
		setFloat(&c.Graph.DefaultUptime, "DEFAULT_UPTIME"),
		setDuration(&c.Scheduler.Interval, "SCHEDULER_INTERVAL"),
		setUint32(&c.Scheduler.MaxConsecutiveFailures, "MAX_CONSECUTIVE_FAILURES"),
		setBool(&c.Scheduler.DryRun, "DRY_RUN"),
		setFloat(&c.Rewards.Pool, "REWARD_POOL"),
	)
	return err
}

func (c *Config) Validate() error {
	if c.LedgerRPCURL == "" {
		return errors.New("ledger rpc url is required")
	}
	if c.SolanaRPCURL == "" {
		return errors.New("solana rpc url is required")
	}
	if c.Telemetry.CoverageThreshold <= 0 || c.Telemetry.CoverageThreshold > 1 {
		return errors.New("telemetry coverage threshold must be in (0, 1]")
	}
	if c.Telemetry.MaxEpochsLookback == 0 {
		return errors.New("telemetry max epochs lookback must be positive")
	}
	if c.Graph.DefaultUptime <= 0 || c.Graph.DefaultUptime > 1 {
		return errors.New("graph default uptime must be in (0, 1]")
	}
	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler interval must be positive")
	}
	if c.Rewards.Pool <= 0 {
		return errors.New("reward pool must be positive")
	}
	return nil
}

// IsTestEnvironment reports whether exchange codes carry the test prefix.
func (c *Config) IsTestEnvironment() bool {
	return c.Environment == "testnet" || c.Environment == "devnet"
}

// ExcludedProviderSet returns the excluded providers as a lookup set.
func (c *Config) ExcludedProviderSet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Telemetry.ExcludedProviders))
	for _, p := range c.Telemetry.ExcludedProviders {
		out[p] = struct{}{}
	}
	return out
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func setUint(dst *uint64, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func setUint32(dst *uint32, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = uint32(parsed)
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, key, err)
	}
	*dst = parsed
	return nil
}
