package tables

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateEngine_Render(t *testing.T) {
	engine := NewTemplateEngine()

	tests := []struct {
		name      string
		content   string
		variables map[string]interface{}
		expected  string
		expectErr bool
	}{
		{
			name:    "simple substitution",
			content: "INSERT INTO {{ .self.table }} SELECT * FROM {{ .raw.database }}.products",
			variables: map[string]interface{}{
				"self": map[string]interface{}{"table": "analytics.dim_products"},
				"raw":  map[string]interface{}{"database": "raw"},
			},
			expected: "INSERT INTO analytics.dim_products SELECT * FROM raw.products",
		},
		{
			name:    "sprig function usage",
			content: "SELECT '{{ .name | upper }}'",
			variables: map[string]interface{}{
				"name": "sales",
			},
			expected: "SELECT 'SALES'",
		},
		{
			name:      "invalid template",
			content:   "SELECT {{ .broken",
			variables: map[string]interface{}{},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Render(tt.content, tt.variables)
			if tt.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestTemplateEngine_BuildVariables(t *testing.T) {
	engine := NewTemplateEngine()
	runDate := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

	variables := engine.BuildVariables("raw", "analytics", "analytics.fact_sales", runDate)

	rendered, err := engine.Render(
		"INSERT INTO {{ .self.table }} -- run {{ .run.date }}",
		variables,
	)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO analytics.fact_sales -- run 2024-01-03", rendered)
}
