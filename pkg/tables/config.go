// Package tables defines the table and dimensional model configuration that
// drives a pipeline run
package tables

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Static errors for configuration validation
var (
	ErrTableNameRequired  = errors.New("table name is required")
	ErrPrimaryKeyRequired = errors.New("at least one primary key column is required")
	ErrBatchSizeInvalid   = errors.New("batch size must be positive")
	ErrNoTables           = errors.New("at least one table must be configured")
)

// TableConfig drives one table's processing for a run. Immutable once
// constructed.
type TableConfig struct {
	Name              string   `yaml:"name" validate:"required"`
	PrimaryKeyColumns []string `yaml:"primaryKeyColumns"`
	PartitionColumns  []string `yaml:"partitionColumns,omitempty"`
	IncrementalColumn string   `yaml:"incrementalColumn,omitempty"`
	BatchSize         int      `yaml:"batchSize" default:"50000"`
}

// Validate checks if the table configuration is valid
func (c *TableConfig) Validate() error {
	if c.Name == "" {
		return ErrTableNameRequired
	}

	if len(c.PrimaryKeyColumns) == 0 {
		return fmt.Errorf("table %s: %w", c.Name, ErrPrimaryKeyRequired)
	}

	if c.BatchSize <= 0 {
		return fmt.Errorf("table %s: %w", c.Name, ErrBatchSizeInvalid)
	}

	return nil
}

// IsIncremental reports whether the table is configured for incremental
// extraction
func (c *TableConfig) IsIncremental() bool {
	return c.IncrementalColumn != ""
}

// SourcePath returns the object store path for the table's landed data on
// the given date
func (c *TableConfig) SourcePath(date time.Time) string {
	return fmt.Sprintf("raw/%s/%s", c.Name, date.UTC().Format("2006/01/02"))
}

// RawTable returns the fully qualified raw landing table name
func (c *TableConfig) RawTable(database string) string {
	return fmt.Sprintf("%s.%s", database, c.Name)
}

// SchemaConfig carries externally supplied DDL executed before loading
type SchemaConfig struct {
	Raw   []string `yaml:"raw,omitempty"`
	Model []string `yaml:"model,omitempty"`
}

// Config is the full set of table and model configuration for a run
type Config struct {
	Tables []TableConfig `yaml:"tables"`
	Model  ModelConfig   `yaml:"model"`
	Schema SchemaConfig  `yaml:"schema,omitempty"`
}

// Validate checks the configuration as a whole
func (c *Config) Validate() error {
	if len(c.Tables) == 0 {
		return ErrNoTables
	}

	for i := range c.Tables {
		if err := c.Tables[i].Validate(); err != nil {
			return err
		}
	}

	return c.Model.Validate()
}

// LoadConfig reads table configuration from a YAML file, applying defaults
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// defaults.Set cannot see slice elements created during unmarshal
	for i := range config.Tables {
		if config.Tables[i].BatchSize == 0 {
			config.Tables[i].BatchSize = 50000
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
