package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithOptionsWritesJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "rico.log")
	logger := SetupWithOptions("rico-sim", "test", Options{Level: "debug", File: file, Writer: &buf})
	logger.Debug("stage resolved", "stage", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "stage resolved", line["message"])
	require.Equal(t, "rico-sim", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(data), "stage resolved")
}

func TestLevelFiltering(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := SetupWithOptions("rico-sim", "", Options{Level: "warn", Writer: &buf})
	logger.Info("hidden")
	require.Zero(t, buf.Len())
	logger.Warn("shown")
	require.Contains(t, buf.String(), "shown")
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("participant", "0xabc").Value.String())
	require.Equal(t, "3", MaskField("stage", "3").Value.String())
	require.Equal(t, "", MaskField("participant", "").Value.String())
	require.Contains(t, RedactionAllowlist(), "component")
}

func TestAddressRedactor(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewAddressRedactor(base)).With("sale", "0x0000000000000000000000000000000000000010")
	logger.Info("tokens returned",
		"participant", "0x0000000000000000000000000000000000000021",
		"tokens", "1000",
		slog.Group("call", "from", "0x0000000000000000000000000000000000000022"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, RedactedValue, line["sale"])
	require.Equal(t, RedactedValue, line["participant"])
	require.Equal(t, "1000", line["tokens"])
	require.Equal(t, map[string]any{"from": RedactedValue}, line["call"])

	h := NewAddressRedactor(base)
	require.Equal(t, h, NewAddressRedactor(h))
}
