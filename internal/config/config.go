package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Sync   SyncConfig   `yaml:"sync"`
	Mock   MockConfig   `yaml:"mock"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SyncConfig struct {
	// FlushWindow bounds diff delivery latency; the window is anchored to
	// the first buffered change, not extended by later ones.
	FlushWindow      time.Duration `yaml:"flush_window"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type MockConfig struct {
	Trees          int           `yaml:"trees"`
	Suites         int           `yaml:"suites"`
	CasesPerSuite  int           `yaml:"cases_per_suite"`
	DiscoverDelay  time.Duration `yaml:"discover_delay"`
	MutateInterval time.Duration `yaml:"mutate_interval"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Sync: SyncConfig{
			FlushWindow:      200 * time.Millisecond,
			SnapshotInterval: 30 * time.Second,
		},
		Mock: MockConfig{
			Trees:          2,
			Suites:         4,
			CasesPerSuite:  6,
			DiscoverDelay:  150 * time.Millisecond,
			MutateInterval: 2 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
