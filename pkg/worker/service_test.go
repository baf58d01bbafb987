package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/strata/pkg/tables"
	"github.com/ethpandaops/strata/pkg/tasks"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError error
		concurrency int
	}{
		{"defaults applied", Config{}, nil, 10},
		{"explicit concurrency", Config{Concurrency: 4}, nil, 4},
		{"negative concurrency", Config{Concurrency: -1}, ErrInvalidConcurrency, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.concurrency, tt.config.Concurrency)
		})
	}
}

func TestService_Queues(t *testing.T) {
	tablesCfg := &tables.Config{
		Tables: []tables.TableConfig{
			{Name: "sales", PrimaryKeyColumns: []string{"id"}, BatchSize: 10},
			{Name: "products", PrimaryKeyColumns: []string{"id"}, BatchSize: 10},
		},
	}

	s := &service{config: &Config{Concurrency: 10}, tables: tablesCfg}

	queues := s.queues()
	assert.Contains(t, queues, "sales")
	assert.Contains(t, queues, "products")
	assert.Contains(t, queues, tasks.ModelQueue)
}

func TestService_QueuesFiltered(t *testing.T) {
	tablesCfg := &tables.Config{
		Tables: []tables.TableConfig{
			{Name: "sales", PrimaryKeyColumns: []string{"id"}, BatchSize: 10},
			{Name: "products", PrimaryKeyColumns: []string{"id"}, BatchSize: 10},
		},
	}

	s := &service{config: &Config{Concurrency: 10, Tables: []string{"sales"}}, tables: tablesCfg}

	queues := s.queues()
	assert.Contains(t, queues, "sales")
	assert.NotContains(t, queues, "products")
	assert.Contains(t, queues, tasks.ModelQueue, "every worker can run the model build")
}
