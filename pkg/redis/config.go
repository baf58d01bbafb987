// Package redis provides Redis client configuration shared by the
// coordinator and workers
package redis

import (
	"errors"

	"github.com/redis/go-redis/v9"
)

// Static errors
var (
	ErrURLRequired = errors.New("redis URL is required")
)

// Config holds Redis connection configuration
type Config struct {
	URL string `yaml:"url"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}

	return nil
}

// Options parses the URL into client options
func (c *Config) Options() (*redis.Options, error) {
	return redis.ParseURL(c.URL)
}
