package tables

import (
	"errors"
	"fmt"
)

// Static errors for model configuration validation
var (
	ErrDimensionNameRequired = errors.New("dimension name is required")
	ErrTransformRequired     = errors.New("transform SQL is required")
	ErrUnknownDimension      = errors.New("fact references unknown dimension")
	ErrDuplicateDimension    = errors.New("duplicate dimension name")
)

// DimensionConfig describes one dimension table: its target table and the
// transform query that repopulates it from raw data
type DimensionConfig struct {
	Name      string `yaml:"name" validate:"required"`
	Table     string `yaml:"table"`
	Transform string `yaml:"transform" validate:"required"`
}

// TargetTable returns the fully qualified dimension table name
func (d *DimensionConfig) TargetTable(database string) string {
	table := d.Table
	if table == "" {
		table = "dim_" + d.Name
	}

	return fmt.Sprintf("%s.%s", database, table)
}

// FactConfig describes the fact table: its transform joins raw fact-source
// rows against the freshly loaded dimensions to resolve surrogate keys
type FactConfig struct {
	Name      string   `yaml:"name" validate:"required"`
	Table     string   `yaml:"table"`
	Transform string   `yaml:"transform" validate:"required"`
	DependsOn []string `yaml:"dependsOn"`
}

// TargetTable returns the fully qualified fact table name
func (f *FactConfig) TargetTable(database string) string {
	table := f.Table
	if table == "" {
		table = "fact_" + f.Name
	}

	return fmt.Sprintf("%s.%s", database, table)
}

// ModelConfig is the dimensional model built after all raw loads finish
type ModelConfig struct {
	Dimensions []DimensionConfig `yaml:"dimensions,omitempty"`
	Fact       *FactConfig       `yaml:"fact,omitempty"`
}

// Validate checks dimension uniqueness and fact dependency references
func (m *ModelConfig) Validate() error {
	seen := make(map[string]struct{}, len(m.Dimensions))

	for i := range m.Dimensions {
		d := &m.Dimensions[i]
		if d.Name == "" {
			return ErrDimensionNameRequired
		}

		if d.Transform == "" {
			return fmt.Errorf("dimension %s: %w", d.Name, ErrTransformRequired)
		}

		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateDimension, d.Name)
		}

		seen[d.Name] = struct{}{}
	}

	if m.Fact == nil {
		return nil
	}

	if m.Fact.Transform == "" {
		return fmt.Errorf("fact %s: %w", m.Fact.Name, ErrTransformRequired)
	}

	for _, dep := range m.Fact.DependsOn {
		if _, ok := seen[dep]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDimension, dep)
		}
	}

	return nil
}

// FactDependencies returns the dimensions the fact load must wait for.
// An empty DependsOn means the fact depends on every configured dimension.
func (m *ModelConfig) FactDependencies() []string {
	if m.Fact == nil {
		return nil
	}

	if len(m.Fact.DependsOn) > 0 {
		return m.Fact.DependsOn
	}

	deps := make([]string, 0, len(m.Dimensions))
	for i := range m.Dimensions {
		deps = append(deps, m.Dimensions[i].Name)
	}

	return deps
}
