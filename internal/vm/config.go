package vm

import (
	"github.com/caarlos0/env/v6"
)

// Config tunes the collector. The zero value is usable; ConfigFromEnv applies the
// documented defaults.
type Config struct {
	// GCThreshold is the number of allocations between collections.
	GCThreshold int `env:"LOXY_GC_THRESHOLD" envDefault:"500"`
	// GCStress collects at every instruction boundary, for shaking out
	// missing roots.
	GCStress bool `env:"LOXY_GC_STRESS" envDefault:"false"`
	// GCLog writes a one-line summary of each collection to stderr.
	GCLog bool `env:"LOXY_GC_LOG" envDefault:"false"`
}

// ConfigFromEnv reads the LOXY_* variables from the process environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig returns the production tuning without consulting the
// environment.
func DefaultConfig() Config {
	return Config{GCThreshold: 500}
}
