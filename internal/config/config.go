// Package config handles configuration loading and validation for lexisync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexisync/lexisync/pkg/vocab"
)

// ProfileConfig identifies the vocabulary profile this device syncs.
type ProfileConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`
}

// Vocab converts the config form into the wire profile.
func (p ProfileConfig) Vocab() vocab.Profile {
	return vocab.Profile{
		ProfileID:      p.ID,
		ProfileName:    p.Name,
		SourceLanguage: p.SourceLanguage,
		TargetLanguage: p.TargetLanguage,
	}
}

// DeviceConfig holds configuration for a device endpoint.
type DeviceConfig struct {
	Broker         string        `yaml:"broker"`       // broker base URL
	DataDir        string        `yaml:"data_dir"`     // vocabulary database directory
	DownloadDir    string        `yaml:"download_dir"` // where received files land
	Profile        ProfileConfig `yaml:"profile"`
	ConnectTimeout string        `yaml:"connect_timeout"` // duration string, e.g. "15s"
	IdleTimeout    string        `yaml:"idle_timeout"`    // duration string, e.g. "15m"
	SyncTimeout    string        `yaml:"sync_timeout"`    // duration string, e.g. "30s"
}

// BrokerConfig holds configuration for the rendezvous broker.
type BrokerConfig struct {
	Listen      string `yaml:"listen"`
	SignKey     string `yaml:"sign_key"`
	SessionTTL  string `yaml:"session_ttl"`  // duration string, e.g. "15m"
	PairTimeout string `yaml:"pair_timeout"` // duration string, e.g. "30s"
	TokenTTL    string `yaml:"token_ttl"`    // duration string, e.g. "30m"
}

// LoadDeviceConfig loads device configuration from a YAML file.
func LoadDeviceConfig(path string) (*DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &DeviceConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *DeviceConfig) ApplyDefaults() {
	if c.Broker == "" {
		c.Broker = "http://localhost:8443"
	}
	if c.DataDir == "" {
		c.DataDir = "~/.lexisync"
	}
	if c.DownloadDir == "" {
		c.DownloadDir = filepath.Join(c.DataDir, "downloads")
	}
	if c.ConnectTimeout == "" {
		c.ConnectTimeout = "15s"
	}
	if c.IdleTimeout == "" {
		c.IdleTimeout = "15m"
	}
	if c.SyncTimeout == "" {
		c.SyncTimeout = "30s"
	}
	c.DataDir = expandHome(c.DataDir)
	c.DownloadDir = expandHome(c.DownloadDir)
}

// LoadBrokerConfig loads broker configuration from a YAML file.
func LoadBrokerConfig(path string) (*BrokerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &BrokerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func (c *BrokerConfig) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8443"
	}
	if c.SessionTTL == "" {
		c.SessionTTL = "15m"
	}
	if c.PairTimeout == "" {
		c.PairTimeout = "30s"
	}
	if c.TokenTTL == "" {
		c.TokenTTL = "30m"
	}
}

// Validate checks if the device configuration is valid.
func (c *DeviceConfig) Validate() error {
	u, err := url.Parse(c.Broker)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("broker must be an http(s) URL, got %q", c.Broker)
	}
	if c.Profile.SourceLanguage == "" || c.Profile.TargetLanguage == "" {
		return fmt.Errorf("profile.source_language and profile.target_language are required")
	}
	for _, d := range []struct{ name, val string }{
		{"connect_timeout", c.ConnectTimeout},
		{"idle_timeout", c.IdleTimeout},
		{"sync_timeout", c.SyncTimeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	return nil
}

// Validate checks if the broker configuration is valid.
func (c *BrokerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.SignKey == "" {
		return fmt.Errorf("sign_key is required")
	}
	for _, d := range []struct{ name, val string }{
		{"session_ttl", c.SessionTTL},
		{"pair_timeout", c.PairTimeout},
		{"token_ttl", c.TokenTTL},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	return nil
}

// Duration parses a duration field that Validate has already vetted.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
