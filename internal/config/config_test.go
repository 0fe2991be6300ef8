package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDeviceConfig(t *testing.T) {
	path := writeConfig(t, `
broker: https://broker.example.com
profile:
  id: p1
  name: Spanish
  source_language: en
  target_language: es
idle_timeout: 5m
`)

	cfg, err := LoadDeviceConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://broker.example.com", cfg.Broker)
	assert.Equal(t, "5m", cfg.IdleTimeout)
	assert.Equal(t, "15s", cfg.ConnectTimeout, "default applied")
	assert.Equal(t, "30s", cfg.SyncTimeout, "default applied")
	assert.NoError(t, cfg.Validate())

	p := cfg.Profile.Vocab()
	assert.Equal(t, "en", p.SourceLanguage)
	assert.Equal(t, "es", p.TargetLanguage)
}

func TestLoadDeviceConfigMissingFile(t *testing.T) {
	_, err := LoadDeviceConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDeviceConfigValidate(t *testing.T) {
	valid := func() *DeviceConfig {
		c := &DeviceConfig{
			Broker:  "http://localhost:8443",
			Profile: ProfileConfig{SourceLanguage: "en", TargetLanguage: "es"},
		}
		c.ApplyDefaults()
		return c
	}

	require.NoError(t, valid().Validate())

	c := valid()
	c.Broker = "not a url"
	assert.Error(t, c.Validate())

	c = valid()
	c.Broker = "ftp://example.com"
	assert.Error(t, c.Validate())

	c = valid()
	c.Profile.TargetLanguage = ""
	assert.Error(t, c.Validate())

	c = valid()
	c.SyncTimeout = "soon"
	assert.Error(t, c.Validate())
}

func TestLoadBrokerConfig(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
sign_key: super-secret
pair_timeout: 45s
`)

	cfg, err := LoadBrokerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "45s", cfg.PairTimeout)
	assert.Equal(t, "15m", cfg.SessionTTL, "default applied")
	assert.NoError(t, cfg.Validate())
}

func TestBrokerConfigValidate(t *testing.T) {
	c := &BrokerConfig{}
	c.ApplyDefaults()
	assert.Error(t, c.Validate(), "sign_key is required")

	c.SignKey = "key"
	assert.NoError(t, c.Validate())

	c.TokenTTL = "forever"
	assert.Error(t, c.Validate())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, Duration("15m"))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".lexisync"), expandHome("~/.lexisync"))
	assert.Equal(t, "/var/lib/lexisync", expandHome("/var/lib/lexisync"))
}
