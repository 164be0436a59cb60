// Package config loads the YAML configuration of the trader and bridge
// processes, plus the line-oriented control and model files.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/risk"
	"github.com/taurusjun/quantlink-trade-system-sub005/pkg/shm"
)

// TraderConfig is the strategy host process configuration.
type TraderConfig struct {
	System     SystemConfig         `yaml:"system"`
	Shm        ShmConfig            `yaml:"shm"`
	Session    SessionConfig        `yaml:"session"`
	Risk       RiskConfig           `yaml:"risk"`
	Strategies []StrategyItemConfig `yaml:"strategies"`
	Portfolio  PortfolioConfig      `yaml:"portfolio"`
	Model      ModelConfig          `yaml:"model"`
	API        APIConfig            `yaml:"api"`
	Events     EventsConfig         `yaml:"events"`
}

// SystemConfig 系统级配置。
type SystemConfig struct {
	Mode    string `yaml:"mode"`     // live | simulation
	DataDir string `yaml:"data_dir"` // runtime state root; mode is appended
	LogFile string `yaml:"log_file"`
}

// ShmConfig carries the SysV keys and ring sizes.
type ShmConfig struct {
	RequestKey   int `yaml:"request_key"`
	ResponseKey  int `yaml:"response_key"`
	MDKey        int `yaml:"md_key"`
	ClientKey    int `yaml:"client_key"`
	RequestSize  int `yaml:"request_size"`
	ResponseSize int `yaml:"response_size"`
	MDSize       int `yaml:"md_size"`
}

// SessionConfig is the trading window.
type SessionConfig struct {
	StartTime    string `yaml:"start_time"` // HH:MM:SS
	EndTime      string `yaml:"end_time"`
	Timezone     string `yaml:"timezone"`
	AutoActivate bool   `yaml:"auto_activate"` // activate on window entry
	AutoStop     bool   `yaml:"auto_stop"`     // flatten on window exit
	// FlattenDeadlineSec bounds the Flattening state at shutdown.
	FlattenDeadlineSec int `yaml:"flatten_deadline_sec"`
}

// RiskConfig nests the gate limits plus evaluation knobs.
type RiskConfig struct {
	Strategy               risk.StrategyLimits `yaml:"strategy"`
	Global                 risk.GlobalLimits   `yaml:"global"`
	CheckIntervalMs        int64               `yaml:"check_interval_ms"`
	MaxAlertQueueSize      int                 `yaml:"max_alert_queue_size"`
	AlertRetentionSeconds  int                 `yaml:"alert_retention_seconds"`
	EmergencyStopThreshold int                 `yaml:"emergency_stop_threshold"`
}

// StrategyItemConfig is one hosted strategy.
type StrategyItemConfig struct {
	ID         int32                  `yaml:"id"`
	Type       string                 `yaml:"type"` // mean_reversion
	Symbol     string                 `yaml:"symbol"`
	Exchange   string                 `yaml:"exchange"`
	Allocation float64                `yaml:"allocation"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

// PortfolioConfig bounds allocation fractions.
type PortfolioConfig struct {
	MinAllocation float64 `yaml:"min_allocation"`
	MaxAllocation float64 `yaml:"max_allocation"`
}

// ModelConfig is the hot-reload source.
type ModelConfig struct {
	File            string `yaml:"file"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
	AutoReload      bool   `yaml:"auto_reload"`
}

// APIConfig is the HTTP status surface.
type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// EventsConfig wires the optional NATS publisher.
type EventsConfig struct {
	NATSAddr string `yaml:"nats_addr"`
}

// LoadTraderConfig reads and validates the YAML file.
func LoadTraderConfig(path string) (*TraderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg TraderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *TraderConfig) applyDefaults() {
	if c.System.Mode == "" {
		c.System.Mode = "simulation"
	}
	if c.System.DataDir == "" {
		c.System.DataDir = "data"
	}
	if c.Shm.RequestKey == 0 {
		c.Shm.RequestKey = shm.KeyRequestQueue
	}
	if c.Shm.ResponseKey == 0 {
		c.Shm.ResponseKey = shm.KeyResponseQueue
	}
	if c.Shm.MDKey == 0 {
		c.Shm.MDKey = shm.KeyMDQueue
	}
	if c.Shm.ClientKey == 0 {
		c.Shm.ClientKey = shm.KeyClientStore
	}
	if c.Shm.RequestSize == 0 {
		c.Shm.RequestSize = shm.DefaultRequestQueueSize
	}
	if c.Shm.ResponseSize == 0 {
		c.Shm.ResponseSize = shm.DefaultResponseQueueSize
	}
	if c.Shm.MDSize == 0 {
		c.Shm.MDSize = shm.DefaultMDQueueSize
	}
	if c.Session.Timezone == "" {
		c.Session.Timezone = "Asia/Shanghai"
	}
	if c.Session.FlattenDeadlineSec == 0 {
		c.Session.FlattenDeadlineSec = 60
	}
	if c.Portfolio.MaxAllocation == 0 {
		c.Portfolio.MaxAllocation = 1
	}
	if c.Model.PollIntervalSec == 0 {
		c.Model.PollIntervalSec = 5
	}
}

// Validate rejects configurations the host cannot run.
func (c *TraderConfig) Validate() error {
	if c.System.Mode != "live" && c.System.Mode != "simulation" {
		return fmt.Errorf("system.mode must be live or simulation, got %q", c.System.Mode)
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("no strategies configured")
	}

	seen := make(map[int32]bool)
	var allocSum float64
	for _, sc := range c.Strategies {
		if sc.ID <= 0 {
			return fmt.Errorf("strategy id must be positive, got %d", sc.ID)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate strategy id %d", sc.ID)
		}
		seen[sc.ID] = true
		if sc.Symbol == "" {
			return fmt.Errorf("strategy %d: symbol required", sc.ID)
		}
		if sc.Allocation < 0 {
			return fmt.Errorf("strategy %d: negative allocation", sc.ID)
		}
		if sc.Allocation > 0 {
			if c.Portfolio.MinAllocation > 0 && sc.Allocation < c.Portfolio.MinAllocation {
				return fmt.Errorf("strategy %d: allocation %.3f below minimum %.3f",
					sc.ID, sc.Allocation, c.Portfolio.MinAllocation)
			}
			if sc.Allocation > c.Portfolio.MaxAllocation {
				return fmt.Errorf("strategy %d: allocation %.3f above maximum %.3f",
					sc.ID, sc.Allocation, c.Portfolio.MaxAllocation)
			}
		}
		allocSum += sc.Allocation
	}
	if allocSum > 1.0+1e-9 {
		return fmt.Errorf("strategy allocations sum to %.3f, must be ≤ 1", allocSum)
	}
	return nil
}

// RiskGateConfig assembles the risk.Config from the YAML block.
func (c *TraderConfig) RiskGateConfig() risk.Config {
	return risk.Config{
		Strategy:               c.Risk.Strategy,
		Global:                 c.Risk.Global,
		CheckIntervalMs:        c.Risk.CheckIntervalMs,
		MaxAlertQueueSize:      c.Risk.MaxAlertQueueSize,
		AlertRetentionSeconds:  c.Risk.AlertRetentionSeconds,
		EmergencyStopThreshold: c.Risk.EmergencyStopThreshold,
	}
}
