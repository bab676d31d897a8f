package pool

import (
	"fmt"
	"time"
)

// Config controls how a batch is executed.
type Config struct {
	// MaxConcurrency is the maximum number of simultaneously active workspaces. Must be >= 1.
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	// Timeout bounds how long the pool waits for one task. Zero disables the timeout.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// FailFast stops admitting new tasks after the first Failed or Timeout outcome.
	FailFast bool `mapstructure:"fail_fast" yaml:"fail_fast"`
	// AutoCleanup destroys each workspace as soon as its outcome is recorded.
	AutoCleanup bool `mapstructure:"auto_cleanup" yaml:"auto_cleanup"`
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Minute,
		FailFast:       false,
		AutoCleanup:    true,
	}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("%w: max_concurrency must be >= 1, got %d", ErrInvalidConfig, c.MaxConcurrency)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Timeout)
	}
	return nil
}
