package objectstore

import "errors"

// Static errors for configuration validation
var (
	ErrBucketRequired = errors.New("bucket is required")
)

// Config contains S3 object store settings
type Config struct {
	Bucket string `yaml:"bucket" validate:"required"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return ErrBucketRequired
	}

	return nil
}
