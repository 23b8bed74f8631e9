// Package config loads and validates the YAML run configuration.
// Conflicting duration bounds are rejected here, before any training
// starts.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full run configuration.
type Config struct {
	// Duration bounds. Omitted values stay nil and the loop applies its
	// defaults (max_epochs=1000 when no max bound is set at all,
	// min_epochs=1 when no min bound is set at all).
	MinEpochs *int `yaml:"min_epochs"`
	MaxEpochs *int `yaml:"max_epochs"`
	MinSteps  *int `yaml:"min_steps"`
	MaxSteps  *int `yaml:"max_steps"`

	// ValCheckInterval runs validation every N epochs (0 or 1 = every
	// epoch).
	ValCheckInterval int `yaml:"val_check_interval"`

	// AccumulateGradBatches is the gradient accumulation window.
	AccumulateGradBatches int `yaml:"accumulate_grad_batches"`

	ReloadDataloadersEveryEpoch bool `yaml:"reload_dataloaders_every_epoch"`
	DisableValidation           bool `yaml:"disable_validation"`

	// Demo training knobs used by the CLI.
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	Seed         int64   `yaml:"seed"`

	Checkpoint    CheckpointConfig    `yaml:"checkpoint"`
	EarlyStopping EarlyStoppingConfig `yaml:"early_stopping"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// CheckpointConfig configures checkpoint persistence.
type CheckpointConfig struct {
	Dir          string `yaml:"dir"`
	EveryNEpochs int    `yaml:"every_n_epochs"`
	SaveLast     bool   `yaml:"save_last"`
	Verbose      bool   `yaml:"verbose"`
	MaxKeep      int    `yaml:"max_keep"`
}

// EarlyStoppingConfig configures the early stopping callback.
type EarlyStoppingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Monitor  string  `yaml:"monitor"`
	Patience int     `yaml:"patience"`
	MinDelta float64 `yaml:"min_delta"`
	Mode     string  `yaml:"mode"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ValCheckInterval:      1,
		AccumulateGradBatches: 1,
		BatchSize:             32,
		LearningRate:          0.01,
		Seed:                  42,
		Checkpoint: CheckpointConfig{
			Dir:          "./checkpoints",
			EveryNEpochs: 1,
			SaveLast:     true,
			MaxKeep:      10,
		},
		EarlyStopping: EarlyStoppingConfig{
			Monitor:  "val_loss",
			Patience: 3,
			Mode:     "min",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Load reads and validates a configuration file. Missing keys keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate rejects conflicting or out-of-range settings.
func (c *Config) Validate() error {
	for name, v := range map[string]*int{
		"min_epochs": c.MinEpochs,
		"max_epochs": c.MaxEpochs,
		"min_steps":  c.MinSteps,
		"max_steps":  c.MaxSteps,
	} {
		if v != nil && *v < 0 {
			return errors.Errorf("%s must not be negative, got %d", name, *v)
		}
	}

	if c.MinEpochs != nil && c.MaxEpochs != nil && *c.MinEpochs > *c.MaxEpochs {
		return errors.Errorf("min_epochs (%d) must not exceed max_epochs (%d)", *c.MinEpochs, *c.MaxEpochs)
	}
	if c.MinSteps != nil && c.MaxSteps != nil && *c.MinSteps > *c.MaxSteps {
		return errors.Errorf("min_steps (%d) must not exceed max_steps (%d)", *c.MinSteps, *c.MaxSteps)
	}

	if c.AccumulateGradBatches < 0 {
		return errors.Errorf("accumulate_grad_batches must not be negative, got %d", c.AccumulateGradBatches)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	}

	if es := c.EarlyStopping; es.Enabled {
		if es.Mode != "" && es.Mode != "min" && es.Mode != "max" {
			return errors.Errorf("early_stopping.mode must be \"min\" or \"max\", got %q", es.Mode)
		}
	}

	return nil
}
