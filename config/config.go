package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"rico/native/rico"
)

// DefaultBlocksPerDay assumes 15 second blocks.
const DefaultBlocksPerDay = 5760

// Config is the runtime configuration of a sale deployment. Files are read as
// TOML or YAML depending on their extension.
type Config struct {
	DataDir   string          `toml:"DataDir" yaml:"data_dir"`
	Env       string          `toml:"Env" yaml:"env"`
	Sale      SaleConfig      `toml:"Sale" yaml:"sale"`
	Logging   LoggingConfig   `toml:"Logging" yaml:"logging"`
	EventLog  EventLogConfig  `toml:"EventLog" yaml:"event_log"`
	Telemetry TelemetryConfig `toml:"Telemetry" yaml:"telemetry"`
	API       APIConfig       `toml:"API" yaml:"api"`
}

// SaleConfig describes the roles, schedule and supply of the sale.
type SaleConfig struct {
	Deployer            Address `toml:"Deployer" yaml:"deployer"`
	WhitelistController Address `toml:"WhitelistController" yaml:"whitelist_controller"`
	ProjectWallet       Address `toml:"ProjectWallet" yaml:"project_wallet"`

	// GenesisBlock is the block height the runtime starts at.
	GenesisBlock       uint64 `toml:"GenesisBlock" yaml:"genesis_block"`
	StartBlockDelay    uint64 `toml:"StartBlockDelay" yaml:"start_block_delay"`
	BlocksPerDay       uint64 `toml:"BlocksPerDay" yaml:"blocks_per_day"`
	CommitPhaseDays    uint64 `toml:"CommitPhaseDays" yaml:"commit_phase_days"`
	StageCount         uint64 `toml:"StageCount" yaml:"stage_count"`
	StageDays          uint64 `toml:"StageDays" yaml:"stage_days"`
	CommitPhasePrice   Amount `toml:"CommitPhasePrice" yaml:"commit_phase_price"`
	StagePriceIncrease Amount `toml:"StagePriceIncrease" yaml:"stage_price_increase"`
	// TokenSupply is minted to the sale address at deployment, in token
	// base units.
	TokenSupply Amount `toml:"TokenSupply" yaml:"token_supply"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level           string `toml:"Level" yaml:"level"`
	File            string `toml:"File" yaml:"file"`
	MaxSizeMB       int    `toml:"MaxSizeMB" yaml:"max_size_mb"`
	MaxBackups      int    `toml:"MaxBackups" yaml:"max_backups"`
	MaxAgeDays      int    `toml:"MaxAgeDays" yaml:"max_age_days"`
	RedactAddresses bool   `toml:"RedactAddresses" yaml:"redact_addresses"`
}

// EventLogConfig enables the SQLite event log.
type EventLogConfig struct {
	Enabled bool   `toml:"Enabled" yaml:"enabled"`
	DSN     string `toml:"DSN" yaml:"dsn"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	ServiceName string  `toml:"ServiceName" yaml:"service_name"`
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// APIConfig enables the read-only HTTP query API.
type APIConfig struct {
	Listen            string  `toml:"Listen" yaml:"listen"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
		}
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format (want .toml, .yaml or .yml)", path)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./rico-data"
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "local"
	}
	if cfg.Sale.BlocksPerDay == 0 {
		cfg.Sale.BlocksPerDay = DefaultBlocksPerDay
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.EventLog.Enabled && strings.TrimSpace(cfg.EventLog.DSN) == "" {
		cfg.EventLog.DSN = filepath.Join(cfg.DataDir, "events.db")
	}
	if cfg.API.RequestsPerMinute == 0 {
		cfg.API.RequestsPerMinute = 600
	}
	if cfg.API.Burst == 0 {
		cfg.API.Burst = 20
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "rico-sim"
	}
}

// ScheduleParams converts the sale section into engine parameters.
func (s SaleConfig) ScheduleParams() rico.ScheduleParams {
	return rico.ScheduleParams{
		StartBlockDelay:    s.StartBlockDelay,
		BlocksPerDay:       s.BlocksPerDay,
		CommitPhaseDays:    s.CommitPhaseDays,
		StageCount:         s.StageCount,
		StageDays:          s.StageDays,
		CommitPhasePrice:   s.CommitPhasePrice.Big(),
		StagePriceIncrease: s.StagePriceIncrease.Big(),
	}
}

// Roles returns the privileged addresses of the sale.
func (s SaleConfig) Roles() rico.Roles {
	return rico.Roles{
		Deployer:            s.Deployer.Bytes20(),
		WhitelistController: s.WhitelistController.Bytes20(),
		ProjectWallet:       s.ProjectWallet.Bytes20(),
	}
}
