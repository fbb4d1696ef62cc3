package config

import (
	"fmt"
	"os"

	"telemetry-observer/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Scheduler configuration
	if c.Scheduler.TickMs < 0 {
		return fmt.Errorf("scheduler tick cannot be negative")
	}

	// Validate Storage configuration
	if c.Storage.DBType == "" {
		return fmt.Errorf("database type cannot be empty")
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty for sqlite")
	}
	if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
		return fmt.Errorf("connection string cannot be empty for postgres")
	}

	// Validate Transport configuration
	switch c.Transport.Type {
	case "", "local":
	case "ws":
		if c.Transport.URL == "" {
			return fmt.Errorf("transport url cannot be empty for ws")
		}
	case "redis":
		if c.Transport.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty for redis transport")
		}
	default:
		return fmt.Errorf("unsupported transport type: %s", c.Transport.Type)
	}
	if c.Transport.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	if c.Transport.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// Validate Registry configuration
	entityIDs := make(map[string]struct{}, len(c.Entities))
	for i, e := range c.Entities {
		if e.ID == "" || e.Type == "" {
			return fmt.Errorf("entity %d must have an id and a type", i)
		}
		entityIDs[e.ID] = struct{}{}
	}
	for i, a := range c.Aliases {
		if a.ID == "" {
			return fmt.Errorf("alias %d must have an id", i)
		}
		for _, id := range a.EntityIDs {
			if _, ok := entityIDs[id]; !ok {
				return fmt.Errorf("alias '%s' references unknown entity '%s'", a.ID, id)
			}
		}
	}

	// Validate Widget configuration
	for i, w := range c.Widgets {
		if w.ID == "" {
			return fmt.Errorf("widget %d must have an id", i)
		}
		switch w.Type {
		case models.SubscriptionTimeseries, models.SubscriptionLatest:
			if len(w.Datasources) == 0 {
				return fmt.Errorf("widget '%s' must have at least one datasource", w.ID)
			}
		case models.SubscriptionAlarm:
			if w.AlarmSource == nil {
				return fmt.Errorf("widget '%s' must have an alarm source", w.ID)
			}
		case models.SubscriptionRpc:
			if w.RpcTarget == nil {
				return fmt.Errorf("widget '%s' must have an rpc target", w.ID)
			}
		default:
			return fmt.Errorf("widget '%s' has unsupported type: %s", w.ID, w.Type)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
