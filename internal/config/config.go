// Package config provides configuration management for meshmap.
//
// Config file locations (priority order):
//  1. $MESHMAP_CONFIG
//  2. ./meshmap.yaml
//  3. $XDG_CONFIG_HOME/meshmap/config.yaml or ~/.config/meshmap/config.yaml
//  4. /etc/meshmap/config.yaml
//
// Environment variables override file values so the MQTT credentials can stay
// in a .env file, matching how the feed has historically been deployed.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Estimation EstimationConfig `yaml:"estimation"`
}

// HTTPConfig configures the API server
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the snapshot store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig configures the decoded-observation feed. An empty broker
// disables the feed; observations can still arrive over the HTTP ingest
// endpoint.
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	Topic     string `yaml:"topic"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ClientID  string `yaml:"client_id"`
	KeepAlive int    `yaml:"keepalive_seconds"`
}

// EstimationConfig tunes the position estimator. A negative auto_per_second
// disables the automatic trigger entirely; zero means "use the default".
type EstimationConfig struct {
	TxPowerDBm         float64 `yaml:"tx_power_dbm"`
	AutoPerSecond      float64 `yaml:"auto_per_second"`
	AutoBurst          int     `yaml:"auto_burst"`
	DefaultWindowHours int     `yaml:"default_window_hours"`
}

// AutoRate resolves the automatic-estimation budget. Disabled maps to a
// zero-rate, zero-burst limiter, which denies every trigger.
func (c EstimationConfig) AutoRate() (perSecond float64, burst int) {
	if c.AutoPerSecond < 0 {
		return 0, 0
	}
	return c.AutoPerSecond, c.AutoBurst
}

// Load finds and loads the config file, or returns defaults if none found.
// Environment overrides are applied either way.
func Load() (*Config, string, error) {
	path := FindConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, "", nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	return &cfg, path, nil
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./meshmap.db"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "meshmap"
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60
	}
	if c.Estimation.TxPowerDBm == 0 {
		c.Estimation.TxPowerDBm = -10
	}
	// Negative disables the trigger and is preserved as-is.
	if c.Estimation.AutoPerSecond == 0 {
		c.Estimation.AutoPerSecond = 2
	}
	if c.Estimation.AutoBurst == 0 {
		c.Estimation.AutoBurst = 4
	}
	if c.Estimation.DefaultWindowHours == 0 {
		c.Estimation.DefaultWindowHours = 72
	}
}

// applyEnv overrides file values from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("MESHMAP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("MESHMAP_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		c.MQTT.Topic = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		c.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_KEEPALIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MQTT.KeepAlive = n
		}
	}
}
