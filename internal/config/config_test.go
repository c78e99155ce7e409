package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "nova-3", cfg.ASR.Model)
	assert.Equal(t, "ko", cfg.ASR.Language)
	assert.Equal(t, 300, cfg.ASR.EndpointingMS)
	assert.Equal(t, 2*time.Second, cfg.ASR.SegmentPollInterval)
	assert.Equal(t, 60*time.Second, cfg.ASR.StallTimeout)
	assert.Equal(t, 5*time.Second, cfg.LiveStatus.CacheTTL)
	assert.Equal(t, 50, cfg.LiveStatus.QueueSize)
	assert.Equal(t, 200, cfg.Hub.HistorySize)
	assert.True(t, cfg.STT.AutoStart)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GGCSUB_ASR_API_KEY", "dg-test-key")
	t.Setenv("GGCSUB_STT_AUTO_START", "false")

	cfg, err := Load(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, "dg-test-key", cfg.ASR.APIKey)
	assert.False(t, cfg.STT.AutoStart)
	assert.True(t, cfg.LiveSTTEnabled())
	assert.False(t, cfg.AutoSTTEnabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: "invalid server port",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "DSN must not be empty",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.ASR.SegmentPollInterval = 0 },
			wantErr: "segment poll interval",
		},
		{
			name:    "zero history",
			mutate:  func(c *Config) { c.Hub.HistorySize = 0 },
			wantErr: "history size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(newTestViper())
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFeatureFlags(t *testing.T) {
	cfg, err := Load(newTestViper())
	require.NoError(t, err)

	assert.False(t, cfg.LiveSTTEnabled())
	assert.False(t, cfg.AutoSTTEnabled())
	assert.False(t, cfg.RefinerEnabled())

	cfg.ASR.APIKey = "k"
	assert.True(t, cfg.LiveSTTEnabled())
	assert.True(t, cfg.AutoSTTEnabled())

	cfg.Refiner.APIKey = "r"
	assert.True(t, cfg.RefinerEnabled())
}
