package cmd

import (
	"errors"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/strata/pkg/api"
	"github.com/ethpandaops/strata/pkg/clickhouse"
	"github.com/ethpandaops/strata/pkg/coordinator"
	"github.com/ethpandaops/strata/pkg/objectstore"
	"github.com/ethpandaops/strata/pkg/redis"
	"github.com/ethpandaops/strata/pkg/retry"
	"github.com/ethpandaops/strata/pkg/server"
	"github.com/ethpandaops/strata/pkg/worker"
)

var (
	// ErrClickHouseURLRequired is returned when no warehouse URL is provided
	ErrClickHouseURLRequired = errors.New("clickhouse URL is required")
)

// AppConfig is the top-level configuration shared by all commands
type AppConfig struct {
	Logging string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`

	// TablesPath points to the table and model definitions
	TablesPath string `yaml:"tablesPath" default:"tables.yaml"`

	// Concurrency bounds parallel table pipelines in one process
	Concurrency int `yaml:"concurrency" default:"4"`

	Server server.Config `yaml:"server"`

	ClickHouse clickhouse.Config  `yaml:"clickhouse"`
	S3         objectstore.Config `yaml:"s3"`
	Redis      redis.Config       `yaml:"redis"`

	API         api.Config         `yaml:"api"`
	Coordinator coordinator.Config `yaml:"coordinator"`
	Worker      worker.Config      `yaml:"worker"`

	Retry retry.Policy `yaml:"retry"`
}

// Validate validates the configuration
func (c *AppConfig) Validate() error {
	if c.ClickHouse.URL == "" {
		return ErrClickHouseURLRequired
	}

	if err := c.Redis.Validate(); err != nil {
		return err
	}

	if err := c.S3.Validate(); err != nil {
		return err
	}

	return c.API.Validate()
}

// LoadAppConfig loads configuration from a YAML file, applying defaults
func LoadAppConfig(path string) (*AppConfig, error) {
	if path == "" {
		path = "strata.yaml"
	}

	config := &AppConfig{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
