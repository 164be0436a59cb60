package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

// BridgeConfig is the ORS bridge process configuration.
type BridgeConfig struct {
	Shm     ShmConfig      `yaml:"shm"`
	Brokers []BrokerConfig `yaml:"brokers"`
	// OrdersPerSecond throttles broker sends; 0 disables.
	OrdersPerSecond float64 `yaml:"orders_per_second"`
	OrderBurst      int     `yaml:"order_burst"`
	// HistoryDB is the sqlite file for order/fill history; empty
	// disables recording.
	HistoryDB string    `yaml:"history_db"`
	API       APIConfig `yaml:"api"`
}

// BrokerConfig is one adapter instance.
type BrokerConfig struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"` // sim (counter plugins register externally)
	ConfigPath string   `yaml:"config_path"`
	Symbols    []string `yaml:"symbols"` // exact routes to this adapter
}

// LoadBridgeConfig reads and validates the bridge YAML.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bridge config: %w", err)
	}
	var cfg BridgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse bridge config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge configuration: %w", err)
	}
	return &cfg, nil
}

func (c *BridgeConfig) applyDefaults() {
	if c.Shm.RequestKey == 0 {
		c.Shm.RequestKey = shm.KeyRequestQueue
	}
	if c.Shm.ResponseKey == 0 {
		c.Shm.ResponseKey = shm.KeyResponseQueue
	}
	if c.Shm.RequestSize == 0 {
		c.Shm.RequestSize = shm.DefaultRequestQueueSize
	}
	if c.Shm.ResponseSize == 0 {
		c.Shm.ResponseSize = shm.DefaultResponseQueueSize
	}
}

// Validate rejects unusable bridge configurations.
func (c *BridgeConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	seen := make(map[string]bool)
	for _, bc := range c.Brokers {
		if bc.Name == "" {
			return fmt.Errorf("broker name required")
		}
		if seen[bc.Name] {
			return fmt.Errorf("duplicate broker name %q", bc.Name)
		}
		seen[bc.Name] = true
	}
	return nil
}

// SymbolRoutes flattens the per-broker symbol lists into the route map.
func (c *BridgeConfig) SymbolRoutes() map[string]string {
	routes := make(map[string]string)
	for _, bc := range c.Brokers {
		for _, sym := range bc.Symbols {
			routes[sym] = bc.Name
		}
	}
	return routes
}
