/*
config.go - Server configuration

PURPOSE:
  Selects the storage backend and tunes the sync cadence. Values come
  from an optional YAML file; command-line flags in cmd/server override
  whatever the file says.

EXAMPLE (gas-ledger.yaml):
  port: 8080
  backend: file          # memory | file | bolt | sqlite
  data_dir: ./data
  allowed_origins:
    - http://localhost:5173
  poll_interval: 3s
  debounce: 300ms
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted in Config.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Config is the server configuration.
type Config struct {
	Port           int           `yaml:"port"`
	Backend        string        `yaml:"backend"`
	DataDir        string        `yaml:"data_dir"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Debounce       time.Duration `yaml:"debounce"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:           8080,
		Backend:        BackendFile,
		DataDir:        "./data",
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		PollInterval:   3 * time.Second,
		Debounce:       300 * time.Millisecond,
	}
}

// Load reads a YAML config file over the defaults. A missing path ("")
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendFile, BackendBolt, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q (want memory, file, bolt, or sqlite)", c.Backend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}
