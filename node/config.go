package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/tailored-agentic-units/loaned/middleware"
	"github.com/tailored-agentic-units/loaned/subscription"
)

const (
	ObserverSlog       = "slog"
	ObserverPrometheus = "prometheus"

	defaultNamespace = "loaned"
)

// Config holds initialization parameters for a node. Subscription is the
// base configuration of every subscription; Topics overrides it per topic.
type Config struct {
	Middleware       middleware.Config              `json:"middleware" toml:"middleware"`
	Subscription     subscription.Config            `json:"subscription" toml:"subscription"`
	Topics           map[string]subscription.Config `json:"topics,omitempty" toml:"topics"`
	Observers        []string                       `json:"observers,omitempty" toml:"observers"`
	MetricsNamespace string                         `json:"metrics_namespace,omitempty" toml:"metrics_namespace"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Middleware:       middleware.DefaultConfig(),
		Subscription:     subscription.DefaultConfig(),
		Observers:        []string{ObserverSlog},
		MetricsNamespace: defaultNamespace,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Middleware.Merge(&source.Middleware)
	c.Subscription.Merge(&source.Subscription)

	if len(source.Topics) > 0 {
		c.Topics = source.Topics
	}
	if len(source.Observers) > 0 {
		c.Observers = source.Observers
	}
	if source.MetricsNamespace != "" {
		c.MetricsNamespace = source.MetricsNamespace
	}
}

// SubscriptionConfig resolves the configuration for topic: the base
// subscription config with the topic's overrides applied.
func (c *Config) SubscriptionConfig(topic string) subscription.Config {
	cfg := c.Subscription
	if override, ok := c.Topics[topic]; ok {
		cfg.Merge(&override)
	}
	cfg.Topic = topic
	return cfg
}

// LoadConfig reads a config file, merges it with defaults, and returns the
// resulting Config. Files ending in .toml are parsed as TOML, anything else
// as JSON.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
