// Package server runs long-lived services with shared metrics, health, and
// pprof endpoints until shutdown
package server

// Config holds the shared observability endpoints for long-running services
type Config struct {
	MetricsAddr     string `yaml:"metricsAddr" default:":9090"`
	HealthCheckAddr string `yaml:"healthCheckAddr,omitempty"`
	PProfAddr       string `yaml:"pprofAddr,omitempty"`
}
