package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rico/native/rico"
)

const tomlConfig = `
DataDir = "/var/lib/rico"

[Sale]
Deployer = "0x0000000000000000000000000000000000000001"
WhitelistController = "0x0000000000000000000000000000000000000002"
ProjectWallet = "0x0000000000000000000000000000000000000003"
GenesisBlock = 100
StartBlockDelay = 10
BlocksPerDay = 6
CommitPhaseDays = 2
StageCount = 3
StageDays = 1
CommitPhasePrice = "0.002 ether"
StagePriceIncrease = "100000 gwei"
TokenSupply = "1000000 tokens"

[Logging]
Level = "debug"
RedactAddresses = true
`

const yamlConfig = `
sale:
  deployer: "0x0000000000000000000000000000000000000001"
  whitelist_controller: "0x0000000000000000000000000000000000000002"
  project_wallet: "0x0000000000000000000000000000000000000003"
  commit_phase_days: 2
  stage_count: 3
  stage_days: 1
  commit_phase_price: 2000000000000000
  stage_price_increase: "0.0001 ether"
  token_supply: "1000000 ether"
event_log:
  enabled: true
telemetry:
  endpoint: "localhost:4318"
  traces: true
  sample_ratio: 0.5
api:
  listen: ":8088"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	cfg, err := Load(writeFile(t, "rico.toml", tomlConfig))
	require.NoError(t, err)

	require.Equal(t, "/var/lib/rico", cfg.DataDir)
	require.Equal(t, "local", cfg.Env)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Logging.RedactAddresses)
	require.Equal(t, "rico-sim", cfg.Telemetry.ServiceName)

	params := cfg.Sale.ScheduleParams()
	require.Equal(t, uint64(6), params.BlocksPerDay)
	require.Equal(t, "2000000000000000", params.CommitPhasePrice.String())
	require.Equal(t, "100000000000000", params.StagePriceIncrease.String())
	require.Equal(t, "1000000000000000000000000", cfg.Sale.TokenSupply.String())

	roles := cfg.Sale.Roles()
	require.Equal(t, byte(1), roles.Deployer[19])
	require.Equal(t, byte(2), roles.WhitelistController[19])
	require.Equal(t, byte(3), roles.ProjectWallet[19])

	schedule, err := rico.NewSchedule(cfg.Sale.GenesisBlock, params)
	require.NoError(t, err)
	require.Equal(t, uint64(110), schedule.CommitPhaseStartBlock())
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "rico.yaml", yamlConfig))
	require.NoError(t, err)

	require.Equal(t, "./rico-data", cfg.DataDir)
	require.Equal(t, uint64(DefaultBlocksPerDay), cfg.Sale.BlocksPerDay)
	require.Equal(t, filepath.Join("./rico-data", "events.db"), cfg.EventLog.DSN)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "2000000000000000", cfg.Sale.CommitPhasePrice.String())
	require.Equal(t, "100000000000000", cfg.Sale.StagePriceIncrease.String())
	require.True(t, cfg.Telemetry.Traces)
	require.Equal(t, 0.5, cfg.Telemetry.SampleRatio)
	require.Equal(t, ":8088", cfg.API.Listen)
	require.Equal(t, float64(600), cfg.API.RequestsPerMinute)
	require.Equal(t, 20, cfg.API.Burst)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeFile(t, "rico.toml", tomlConfig+"\nBogus = 1\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "rico.yml", yamlConfig+"bogus: 1\n"))
	require.Error(t, err)
}

func TestLoadRejectsUnsupportedExtension(t *testing.T) {
	_, err := Load(writeFile(t, "rico.json", "{}"))
	require.ErrorContains(t, err, "unsupported format")
}

func TestValidate(t *testing.T) {
	base, err := Load(writeFile(t, "rico.toml", tomlConfig))
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"missing deployer":   func(c *Config) { c.Sale.Deployer = Address{} },
		"missing controller": func(c *Config) { c.Sale.WhitelistController = Address{} },
		"missing project":    func(c *Config) { c.Sale.ProjectWallet = Address{} },
		"zero supply":        func(c *Config) { c.Sale.TokenSupply = Amount{} },
		"bad sample ratio":   func(c *Config) { c.Telemetry.SampleRatio = 2 },
		"negative backups":   func(c *Config) { c.Logging.MaxBackups = -1 },
		"negative burst":     func(c *Config) { c.API.Burst = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			mutate(&cfg)
			require.Error(t, Validate(&cfg))
		})
	}

	cfg := *base
	cfg.Sale.StageCount = 0
	require.ErrorIs(t, Validate(&cfg), rico.ErrConfig)
	require.Error(t, Validate(nil))
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"1":               "1",
		"1_000":           "1000",
		"2 gwei":          "2000000000",
		"0.002 ether":     "2000000000000000",
		"1.5 ETH":         "1500000000000000000",
		"  7   wei ":      "7",
		"3 tokens":        "3000000000000000000",
		"0.000000001 eth": "1000000000",
	}
	for raw, want := range cases {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got.String(), raw)
	}

	for _, raw := range []string{"", "abc", "1.5", "1 furlong", "-1 ether", "1 2 3", "0.0000000001 gwei"} {
		_, err := ParseAmount(raw)
		require.Error(t, err, raw)
	}
	require.Equal(t, 0, Amount{}.Sign())
	require.Equal(t, "0", Amount{}.Big().String())
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x00000000000000000000000000000000000000AA ")
	require.NoError(t, err)
	require.Equal(t, byte(0xaa), addr.Bytes20()[19])
	require.False(t, addr.IsZero())

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
}
