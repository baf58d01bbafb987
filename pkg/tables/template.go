package tables

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// TemplateEngine renders transform SQL with Sprig functions
type TemplateEngine struct {
	funcMap template.FuncMap
}

// NewTemplateEngine creates a new template engine with Sprig functions
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		funcMap: sprig.TxtFuncMap(),
	}
}

// Render renders a transform template with the given variables
func (t *TemplateEngine) Render(content string, variables map[string]interface{}) (string, error) {
	tmpl, err := template.New("transform").Funcs(t.funcMap).Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// BuildVariables builds template variables for a transform query
func (t *TemplateEngine) BuildVariables(rawDatabase, modelDatabase, target string, runDate time.Time) map[string]interface{} {
	return map[string]interface{}{
		"raw": map[string]interface{}{
			"database": rawDatabase,
		},
		"model": map[string]interface{}{
			"database": modelDatabase,
		},
		"self": map[string]interface{}{
			"table": target,
		},
		"run": map[string]interface{}{
			"date":      runDate.UTC().Format("2006-01-02"),
			"timestamp": runDate.UTC().Format(time.RFC3339),
		},
	}
}
