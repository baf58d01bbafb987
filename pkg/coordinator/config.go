package coordinator

import (
	"errors"
	"time"
)

// Static errors
var (
	// ErrInvalidInterval is returned when the run interval is not positive
	ErrInvalidInterval = errors.New("run interval must be positive")
	// ErrInvalidCompletionTimeout is returned when the completion timeout is
	// not positive
	ErrInvalidCompletionTimeout = errors.New("completion timeout must be positive")
	// ErrCompletionTimeout is returned when workers did not settle a run in
	// time
	ErrCompletionTimeout = errors.New("timed out waiting for table tasks to complete")
)

// Config contains coordinator-specific settings
type Config struct {
	Interval          time.Duration `yaml:"interval" default:"1h"`
	CompletionTimeout time.Duration `yaml:"completionTimeout" default:"30m"`
	PollInterval      time.Duration `yaml:"pollInterval" default:"1s"`
}

// SetDefaults fills zero fields
func (c *Config) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Hour
	}

	if c.CompletionTimeout == 0 {
		c.CompletionTimeout = 30 * time.Minute
	}

	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	c.SetDefaults()

	if c.Interval <= 0 {
		return ErrInvalidInterval
	}

	if c.CompletionTimeout <= 0 {
		return ErrInvalidCompletionTimeout
	}

	return nil
}
