// Copyright 2025 ProvChain Authors
//
// Configuration Loader
// Loads a YAML configuration file (with ${VAR:-default} environment
// substitution) describing a single validator's view of the network,
// in the same style as the teacher's anchor_config.go: a yaml.v3
// target struct, a regex-based substituteEnvVars pass before
// unmarshaling, and an applyDefaults pass after. Falls back to plain
// environment variables when no file is configured, so a local
// simulation never needs a manifest on disk.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a ProvChain validator process.
type Config struct {
	// Identity
	ValidatorID string // e.g. "validator-0"; must match an entry in Validators
	DataDir     string // base directory for each validator's wallet and store, and the shared roster file
	Namespace   string // RDF namespace used to mint block/ontology IRIs, e.g. "provchain.example"

	// Network Configuration — the fixed validator set (N = 3f+1)
	Validators []string // validator IDs of the fixed set; pkg/consensus sorts them, so config order does not decide view rotation
	ListenAddr string   // this validator's PBFT listen address

	// Server Configuration
	MetricsAddr string
	HealthAddr  string

	// Database Configuration (integrity-report history; optional)
	DatabaseURL       string
	DatabaseRequired  bool // if true, Validate rejects an empty DatabaseURL; an unreachable DB is only logged
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Wallet / key lifecycle (C5)
	WalletKeyEnv          string // name of the env var holding the base64 AEAD key; default PROVCHAIN_WALLET_KEY
	RotationIntervalDays  int
	RotationOverlapWindow time.Duration

	// PBFT timing (C4)
	ViewChangeTimeout    time.Duration
	ViewChangeBackoffCap time.Duration

	// Integrity monitor (C7)
	MonitorInterval    time.Duration
	MonitorHistorySize int
	AutoRepairClasses  []string // recommendation categories allowed to auto-repair without consent

	LogLevel string
}

// Duration wraps time.Duration for YAML unmarshaling, accepting
// strings like "5m" or "90s" rather than nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// fileConfig is the YAML manifest shape LoadFile decodes into, kept
// separate from Config so every existing caller of Config's fields
// (time.Duration, not this package's Duration) is unaffected by the
// YAML loading path.
type fileConfig struct {
	Identity struct {
		ValidatorID string `yaml:"validator_id"`
		DataDir     string `yaml:"data_dir"`
		Namespace   string `yaml:"namespace"`
	} `yaml:"identity"`

	Network struct {
		Validators []string `yaml:"validators"`
		ListenAddr string   `yaml:"listen_addr"`
	} `yaml:"network"`

	Server struct {
		MetricsAddr string `yaml:"metrics_addr"`
		HealthAddr  string `yaml:"health_addr"`
	} `yaml:"server"`

	Database struct {
		URL             string   `yaml:"url"`
		Required        bool     `yaml:"required"`
		MaxOpenConns    int      `yaml:"max_open_conns"`
		MaxIdleConns    int      `yaml:"max_idle_conns"`
		ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	} `yaml:"database"`

	Wallet struct {
		KeyEnv                string   `yaml:"key_env"`
		RotationIntervalDays  int      `yaml:"rotation_interval_days"`
		RotationOverlapWindow Duration `yaml:"rotation_overlap_window"`
	} `yaml:"wallet"`

	Consensus struct {
		ViewChangeTimeout    Duration `yaml:"view_change_timeout"`
		ViewChangeBackoffCap Duration `yaml:"view_change_backoff_cap"`
	} `yaml:"consensus"`

	Monitor struct {
		Interval          Duration `yaml:"interval"`
		HistorySize       int      `yaml:"history_size"`
		AutoRepairClasses []string `yaml:"auto_repair_classes"`
	} `yaml:"monitor"`

	LogLevel string `yaml:"log_level"`
}

// toConfig converts the decoded manifest into a Config, applying the
// same defaults Load's environment-only path uses for anything the
// manifest left zero-valued.
func (f *fileConfig) toConfig() *Config {
	cfg := &Config{
		ValidatorID: f.Identity.ValidatorID,
		DataDir:     f.Identity.DataDir,
		Namespace:   f.Identity.Namespace,

		Validators: f.Network.Validators,
		ListenAddr: f.Network.ListenAddr,

		MetricsAddr: f.Server.MetricsAddr,
		HealthAddr:  f.Server.HealthAddr,

		DatabaseURL:       f.Database.URL,
		DatabaseRequired:  f.Database.Required,
		DBMaxOpenConns:    f.Database.MaxOpenConns,
		DBMaxIdleConns:    f.Database.MaxIdleConns,
		DBConnMaxLifetime: time.Duration(f.Database.ConnMaxLifetime),

		WalletKeyEnv:          f.Wallet.KeyEnv,
		RotationIntervalDays:  f.Wallet.RotationIntervalDays,
		RotationOverlapWindow: time.Duration(f.Wallet.RotationOverlapWindow),

		ViewChangeTimeout:    time.Duration(f.Consensus.ViewChangeTimeout),
		ViewChangeBackoffCap: time.Duration(f.Consensus.ViewChangeBackoffCap),

		MonitorInterval:    time.Duration(f.Monitor.Interval),
		MonitorHistorySize: f.Monitor.HistorySize,
		AutoRepairClasses:  f.Monitor.AutoRepairClasses,

		LogLevel: f.LogLevel,
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in anything the YAML manifest (or environment
// overrides applied on top of it) left unset, mirroring the defaults
// Load's pure-environment path passes to getEnv/getEnvInt/etc.
func (c *Config) applyDefaults() {
	if c.ValidatorID == "" {
		c.ValidatorID = "validator-0"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Namespace == "" {
		c.Namespace = "provchain.example"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:26700"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9090"
	}
	if c.HealthAddr == "" {
		c.HealthAddr = "127.0.0.1:8081"
	}
	if c.DBMaxOpenConns == 0 {
		c.DBMaxOpenConns = 10
	}
	if c.DBMaxIdleConns == 0 {
		c.DBMaxIdleConns = 2
	}
	if c.DBConnMaxLifetime == 0 {
		c.DBConnMaxLifetime = time.Hour
	}
	if c.WalletKeyEnv == "" {
		c.WalletKeyEnv = "PROVCHAIN_WALLET_KEY"
	}
	if c.RotationIntervalDays == 0 {
		c.RotationIntervalDays = 90
	}
	if c.RotationOverlapWindow == 0 {
		c.RotationOverlapWindow = 24 * time.Hour
	}
	if c.ViewChangeTimeout == 0 {
		c.ViewChangeTimeout = 4 * time.Second
	}
	if c.ViewChangeBackoffCap == 0 {
		c.ViewChangeBackoffCap = 60 * time.Second
	}
	if c.MonitorInterval == 0 {
		c.MonitorInterval = 5 * time.Minute
	}
	if c.MonitorHistorySize == 0 {
		c.MonitorHistorySize = 50
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}, same
// substitution syntax as the teacher's anchor_config.go.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// substituteEnvVars replaces ${VAR_NAME} / ${VAR_NAME:-default} with
// the named environment variable's value, falling back to the
// literal default text when the variable is unset or empty.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// LoadFile loads a validator's configuration from a YAML manifest,
// substituting ${VAR} / ${VAR:-default} references against the
// process environment before parsing. This is the production path;
// a checked-in manifest (see config.example.yaml) names everything
// stable about a deployment, while ${VAR:-default} references carry
// the handful of values (keys, URLs) that vary per environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return fc.toConfig(), nil
}

// Load reads configuration for a validator process. When CONFIG_FILE
// names a YAML manifest, it is loaded via LoadFile; otherwise
// configuration comes entirely from environment variables with safe
// defaults, suitable for a local multi-validator simulation where
// checking in a manifest per node would be pure overhead.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return LoadFile(path)
	}

	cfg := &Config{
		ValidatorID: getEnv("VALIDATOR_ID", "validator-0"),
		DataDir:     getEnv("DATA_DIR", "./data"),
		Namespace:   getEnv("PROVCHAIN_NAMESPACE", "provchain.example"),

		Validators: parsePeerList(getEnv("PROVCHAIN_VALIDATORS", "")),
		ListenAddr: getEnv("LISTEN_ADDR", "127.0.0.1:26700"),

		MetricsAddr: getEnv("METRICS_ADDR", "127.0.0.1:9090"),
		HealthAddr:  getEnv("HEALTH_ADDR", "127.0.0.1:8081"),

		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DatabaseRequired:  getEnvBool("DATABASE_REQUIRED", false),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		WalletKeyEnv:          getEnv("WALLET_KEY_ENV", "PROVCHAIN_WALLET_KEY"),
		RotationIntervalDays:  getEnvInt("ROTATION_INTERVAL_DAYS", 90),
		RotationOverlapWindow: getEnvDuration("ROTATION_OVERLAP_WINDOW", 24*time.Hour),

		ViewChangeTimeout:    getEnvDuration("VIEW_CHANGE_TIMEOUT", 4*time.Second),
		ViewChangeBackoffCap: getEnvDuration("VIEW_CHANGE_BACKOFF_CAP", 60*time.Second),

		MonitorInterval:    getEnvDuration("MONITOR_INTERVAL", 5*time.Minute),
		MonitorHistorySize: getEnvInt("MONITOR_HISTORY_SIZE", 50),
		AutoRepairClasses:  parsePeerList(getEnv("AUTO_REPAIR_CLASSES", "")),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that configuration required to run a validator node is present.
func (c *Config) Validate() error {
	var errs []string

	if c.ValidatorID == "" {
		errs = append(errs, "VALIDATOR_ID is required")
	}
	if len(c.Validators) == 0 {
		errs = append(errs, "PROVCHAIN_VALIDATORS must list at least one validator")
	}
	if len(c.Validators)%3 == 0 {
		// N = 3f+1 never divides evenly by 3; a config with N%3==0 cannot
		// have been derived from an integer f and is almost certainly a
		// typo (e.g. 3 validators instead of 4).
		errs = append(errs, fmt.Sprintf("validator set size %d cannot satisfy N=3f+1 for any integer f", len(c.Validators)))
	}
	if c.DatabaseRequired && c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required when DATABASE_REQUIRED is true")
	}
	if c.RotationIntervalDays <= 0 {
		errs = append(errs, "ROTATION_INTERVAL_DAYS must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// FaultTolerance returns f, the maximum number of Byzantine replicas
// the configured validator set can tolerate under N = 3f+1.
func (c *Config) FaultTolerance() int {
	return (len(c.Validators) - 1) / 3
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parsePeerList parses a comma-separated list, trimming whitespace and
// dropping empty entries.
func parsePeerList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
