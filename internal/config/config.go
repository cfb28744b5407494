package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env    string `yaml:"env"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Metrics struct {
		Port int `yaml:"port"`
	} `yaml:"metrics"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Drift struct {
		IntervalSeconds int `yaml:"interval_seconds"`
	} `yaml:"drift"`
	Provider struct {
		OpTimeoutSeconds int `yaml:"op_timeout_seconds"`
	} `yaml:"provider"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Registry struct {
		Verify    bool `yaml:"verify"`
		PlainHTTP bool `yaml:"plain_http"`
	} `yaml:"registry"`
	Telemetry struct {
		Exporter string `yaml:"exporter"` // "stdout", "otlp" or empty for none
		Endpoint string `yaml:"endpoint"`
	} `yaml:"telemetry"`
	Log struct {
		File string `yaml:"file"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9100
	}
	if c.Store.Path == "" {
		c.Store.Path = "converge.db"
	}
	if c.Drift.IntervalSeconds == 0 {
		c.Drift.IntervalSeconds = 60
	}
	if c.Provider.OpTimeoutSeconds == 0 {
		c.Provider.OpTimeoutSeconds = 30
	}
}
