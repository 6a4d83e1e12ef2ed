package config

import (
	"errors"
	"fmt"

	"rico/native/rico"
)

// Validate checks a loaded configuration. Schedule problems surface as
// rico.ErrConfig so callers can treat them like engine initialisation errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil configuration")
	}
	s := cfg.Sale
	if s.Deployer.IsZero() {
		return fmt.Errorf("sale: deployer address required")
	}
	if s.WhitelistController.IsZero() {
		return fmt.Errorf("sale: whitelist controller address required")
	}
	if s.ProjectWallet.IsZero() {
		return fmt.Errorf("sale: project wallet address required")
	}
	if s.TokenSupply.Sign() <= 0 {
		return fmt.Errorf("sale: token supply must be positive")
	}
	if _, err := rico.NewSchedule(s.GenesisBlock, s.ScheduleParams()); err != nil {
		return fmt.Errorf("sale: %w", err)
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	if cfg.API.RequestsPerMinute < 0 || cfg.API.Burst < 0 {
		return fmt.Errorf("api: rate limits must not be negative")
	}
	return nil
}
