package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all Cadence configuration
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// MQTT broker for the sync worker pool
	MQTT MQTTConfig `json:"mqtt"`

	// Sync coordination settings
	Sync SyncConfig `json:"sync"`

	// Skill loading settings
	Skills SkillsConfig `json:"skills"`

	// Connector descriptor settings
	Connectors ConnectorsConfig `json:"connectors"`

	// Workspaces this node serves
	Workspaces []WorkspaceDef `json:"workspaces"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled"`
	Port     int    `json:"port"`
	Host     string `json:"host"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// SyncConfig tunes the sync job coordinator.
type SyncConfig struct {
	// StaleAfterMinutes is how long a running sync may go before the
	// next submission reaps it as dead.
	StaleAfterMinutes int `json:"staleAfterMinutes"`
}

// SkillsConfig locates skill definition files.
type SkillsConfig struct {
	Dir string `json:"dir"`
	// DuplicatePolicy is "strict" (reject) or "lenient" (overwrite).
	DuplicatePolicy string `json:"duplicatePolicy"`
}

// ConnectorsConfig locates connector descriptor files.
type ConnectorsConfig struct {
	Dir string `json:"dir"`
}

// WorkspaceDef declares a workspace and the skills active in it.
type WorkspaceDef struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Skills   []string          `json:"skills"`
	Settings map[string]string `json:"settings,omitempty"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8430,
			DataDir:  "./data",
			LogLevel: "info",
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Port:    1883,
			Host:    "127.0.0.1",
		},
		Sync: SyncConfig{
			StaleAfterMinutes: 60,
		},
		Skills: SkillsConfig{
			Dir:             "./skills",
			DuplicatePolicy: "strict",
		},
		Connectors: ConnectorsConfig{
			Dir: "./connectors",
		},
	}
}

// Load reads config from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Sync.StaleAfterMinutes <= 0 {
		return fmt.Errorf("sync.staleAfterMinutes must be positive")
	}
	switch c.Skills.DuplicatePolicy {
	case "strict", "lenient":
	default:
		return fmt.Errorf("skills.duplicatePolicy must be strict or lenient, got %q", c.Skills.DuplicatePolicy)
	}
	seen := make(map[string]bool, len(c.Workspaces))
	for _, ws := range c.Workspaces {
		if ws.ID == "" {
			return fmt.Errorf("workspace id required")
		}
		if seen[ws.ID] {
			return fmt.Errorf("duplicate workspace id %q", ws.ID)
		}
		seen[ws.ID] = true
	}
	return nil
}

// WorkspaceIDs returns the configured workspace ids in declaration order.
func (c *Config) WorkspaceIDs() []string {
	ids := make([]string, len(c.Workspaces))
	for i, ws := range c.Workspaces {
		ids[i] = ws.ID
	}
	return ids
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}
