package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Signal.OfferRetryDelay)
	assert.Equal(t, 3, cfg.Signal.OfferRetryLimit)
	assert.Equal(t, 30*time.Second, cfg.Auction.Duration)
	assert.Equal(t, 3, cfg.Auction.BidRetryLimit)
	assert.Empty(t, cfg.Distribution.ManifestBase)
	assert.False(t, cfg.Redis.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  address: ":9090"
auction:
  duration: 45s
signal:
  offer_retry_limit: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 45*time.Second, cfg.Auction.Duration)
	assert.Equal(t, 5, cfg.Signal.OfferRetryLimit)
	// Untouched keys keep defaults.
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
auction:
  duration: -1s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIVEBID_SERVER_ADDRESS", ":7070")
	t.Setenv("LIVEBID_AUCTION_DURATION", "20s")
	t.Setenv("LIVEBID_OFFER_RETRY_LIMIT", "7")
	t.Setenv("LIVEBID_MANIFEST_BASE", "https://cdn.example.com/live")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, 20*time.Second, cfg.Auction.Duration)
	assert.Equal(t, 7, cfg.Signal.OfferRetryLimit)
	assert.Equal(t, "https://cdn.example.com/live", cfg.Distribution.ManifestBase)
}

func TestEnvRedisAddressEnablesRedis(t *testing.T) {
	t.Setenv("LIVEBID_REDIS_ADDRESS", "redis:6379")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"zero ping interval", func(c *Config) { c.Signal.PingInterval = 0 }},
		{"zero retry delay", func(c *Config) { c.Signal.OfferRetryDelay = 0 }},
		{"negative retry limit", func(c *Config) { c.Signal.OfferRetryLimit = -1 }},
		{"half port range", func(c *Config) { c.WebRTC.PortRange.Min = 50000 }},
		{"inverted port range", func(c *Config) {
			c.WebRTC.PortRange.Min = 60000
			c.WebRTC.PortRange.Max = 50000
		}},
		{"zero auction duration", func(c *Config) { c.Auction.Duration = 0 }},
		{"zero bid retry limit", func(c *Config) { c.Auction.BidRetryLimit = 0 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"redis enabled without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"tracing sample rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2.0
		}},
		{"rate limiting without rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
