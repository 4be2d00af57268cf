package sched

import (
	"os"
	"runtime"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors config.yml
type Config struct {
	Workers     int  `yaml:"workers"`      // runtime.NumCPU() (by default)
	TickMS      int  `yaml:"tick_ms"`      // 5 (by default)
	EventBuffer int  `yaml:"event_buffer"` // 256 (by default)
	Trace       bool `yaml:"trace"`        // false (by default)
}

// DefaultConfig is used when the config file is not found
func DefaultConfig() Config {
	return Config{
		Workers:     runtime.NumCPU(),
		TickMS:      5,
		EventBuffer: 256,
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) Config {
	cfg := DefaultConfig()

	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, &cfg)
	return cfg.sanitize()
}

// sanity clamps
func (c Config) sanitize() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.TickMS <= 0 {
		c.TickMS = 5
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	return c
}
