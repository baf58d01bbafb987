package worker

import (
	"errors"
)

var (
	// ErrInvalidConcurrency is returned when concurrency is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
)

// Config contains worker-specific settings
type Config struct {
	Concurrency int      `yaml:"concurrency" default:"10"`
	Tables      []string `yaml:"tables,omitempty"` // Optional table filter; empty consumes every queue
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Concurrency == 0 {
		c.Concurrency = 10
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	return nil
}
