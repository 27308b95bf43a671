// Package config provides node configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds mesh-node configuration.
type Config struct {
	// COMMS: connect to standalone NATS at BrokerURL.
	BrokerURL string `envconfig:"MESH_BROKER_URL" default:"nats://127.0.0.1:4222"`
	CommsName string `envconfig:"SERVICE_NAME" default:"mesh-node"`

	// Module identity and configuration documents
	ModuleID   string `envconfig:"MESH_MODULE_ID"`
	Prefix     string `envconfig:"MESH_PREFIX"`
	ConfigFile string `envconfig:"MESH_CONFIG_FILE"`

	// Timeouts and dispatch
	CallTimeout        time.Duration `envconfig:"MESH_CALL_TIMEOUT" default:"10s"`
	DispatchQueueDepth int           `envconfig:"MESH_DISPATCH_QUEUE_DEPTH" default:"256"`

	// Embedded broker (development and single-host deployments)
	EmbeddedBroker     bool   `envconfig:"MESH_EMBEDDED_BROKER" default:"false"`
	EmbeddedBrokerHost string `envconfig:"MESH_EMBEDDED_BROKER_HOST" default:"127.0.0.1"`
	EmbeddedBrokerPort int    `envconfig:"MESH_EMBEDDED_BROKER_PORT" default:"4222"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForRun checks required config when running a mesh node.
func (c *Config) ValidateForRun() error {
	if c.ModuleID == "" {
		return fmt.Errorf("%s - MESH_MODULE_ID is required for run", logPrefix)
	}
	if c.ConfigFile == "" {
		return fmt.Errorf("%s - MESH_CONFIG_FILE is required for run", logPrefix)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%s - MESH_CALL_TIMEOUT must be positive", logPrefix)
	}
	if c.DispatchQueueDepth <= 0 {
		return fmt.Errorf("%s - MESH_DISPATCH_QUEUE_DEPTH must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForConfigCheck checks required config when validating configuration documents.
func (c *Config) ValidateForConfigCheck() error {
	if c.ConfigFile == "" {
		return fmt.Errorf("%s - MESH_CONFIG_FILE is required", logPrefix)
	}
	return nil
}
