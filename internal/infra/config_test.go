package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Log("Step 1: clear the environment and load the config")
	for _, key := range []string{"HTTP_PORT", "POLL_INTERVAL_MS", "BUFFER_CAPACITY", "TELEMETRY_ENDPOINTS", "TELEMETRY_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	assert.Equal(t, "6436", cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.SerialSettle)
	assert.Equal(t, 5, cfg.SerialReadAttempts)
	assert.Equal(t, 60, cfg.BufferCapacity)
	assert.Equal(t, 10, cfg.LogMaxSizeMB)
	assert.True(t, cfg.TelemetryEnable)
	assert.Equal(t, DefaultTelemetryEndpoints, cfg.TelemetryEndpoints)
	assert.Equal(t, 500*time.Millisecond, cfg.TelemetryTimeout)
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Log("Step 1: set environment overrides")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("SERIAL_PORT", "/dev/ttyACM0")
	t.Setenv("BAUD_RATE", "19200")
	t.Setenv("POLL_INTERVAL_MS", "2500")
	t.Setenv("TELEMETRY_ENABLED", "false")
	t.Setenv("TELEMETRY_ENDPOINTS", " http://a/mavlink , ,postgres://u:p@db/t ")
	t.Setenv("TELEMETRY_CLOCK_GUARD_YEAR", "2030")

	cfg := LoadConfig()

	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "/dev/ttyACM0", cfg.SerialPort)
	assert.Equal(t, 19200, cfg.BaudRate)
	assert.Equal(t, 2500*time.Millisecond, cfg.PollInterval)
	assert.False(t, cfg.TelemetryEnable)
	assert.Equal(t, []string{"http://a/mavlink", "postgres://u:p@db/t"}, cfg.TelemetryEndpoints)
	assert.Equal(t, 2030, cfg.TelemetryClockGuardYear)
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BAUD_RATE", "fast")
	t.Setenv("TELEMETRY_ENABLED", "perhaps")

	cfg := LoadConfig()

	assert.Equal(t, 9600, cfg.BaudRate)
	assert.True(t, cfg.TelemetryEnable)
}

func TestEmptyOptionalPortsDisableListeners(t *testing.T) {
	t.Setenv("GRPC_PORT", "")
	t.Setenv("METRICS_PORT", "")

	cfg := LoadConfig()

	assert.Empty(t, cfg.GRPCPort)
	assert.Empty(t, cfg.MetricsPort)
}

func TestBindFlagsOverridesEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	cfg := LoadConfig()

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, &cfg)
	require.NoError(t, fs.Parse([]string{"--http-port=7000", "--baud-rate", "115200"}))

	assert.Equal(t, "7000", cfg.HTTPPort)
	assert.Equal(t, 115200, cfg.BaudRate)
}

func TestLogConfigProducesEntries(t *testing.T) {
	t.Log("Step 1: log the configuration and inspect the entries")
	var buf bytes.Buffer
	logger := NewLogger(&buf, "test")
	cfg := Config{TelemetryEndpoints: []string{"postgres://bench:hunter2@db/telemetry"}}

	LogConfig(context.Background(), logger, cfg)

	assert.NotContains(t, buf.String(), "hunter2")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.NotEmpty(t, lines)

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var payload map[string]any
		assert.NoError(t, json.Unmarshal([]byte(line), &payload))
		assert.Equal(t, "info", payload["level"])
	}
}
