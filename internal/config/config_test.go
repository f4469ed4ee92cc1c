package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 5*time.Second, cfg.SubscribeRetry())
	assert.Equal(t, 30, cfg.DefaultTimeoutMinutes)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paywatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: /var/lib/paywatch/pay.db
horizon_url: https://horizon-testnet.stellar.org
sweep_interval_seconds: 30
log_format: json
`), 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/var/lib/paywatch/pay.db", cfg.Database)
	assert.Equal(t, "https://horizon-testnet.stellar.org", cfg.HorizonURL)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval())
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30, cfg.DefaultTimeoutMinutes, "unset fields keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_EmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("sweep_intervall_seconds: 10\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep_intervall_seconds")
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{name: "zero sweep interval", yaml: "sweep_interval_seconds: 0", field: "sweep_interval_seconds"},
		{name: "negative sweep interval", yaml: "sweep_interval_seconds: -5", field: "sweep_interval_seconds"},
		{name: "negative timeout", yaml: "default_timeout_minutes: -1", field: "default_timeout_minutes"},
		{name: "bad log format", yaml: "log_format: xml", field: "log_format"},
		{name: "empty database", yaml: `database: ""`, field: "database"},
		{name: "negative buffer", yaml: "event_buffer: -1", field: "event_buffer"},
		{name: "zero retry", yaml: "subscribe_retry_seconds: 0", field: "subscribe_retry_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))

			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParse_ZeroTimeoutAllowed(t *testing.T) {
	cfg, err := Parse([]byte("default_timeout_minutes: 0"))

	require.NoError(t, err)
	assert.Zero(t, cfg.DefaultTimeoutMinutes)
}
