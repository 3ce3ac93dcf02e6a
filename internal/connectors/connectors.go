package connectors

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Descriptor describes one external data source integration, loaded from
// a connector.toml file. Descriptors are static configuration; workspace
// credentials live elsewhere.
type Descriptor struct {
	Type        string   `toml:"type"` // "hubspot", "gmail", ...
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Entities    []string `toml:"entities"` // entity types this connector produces
	RateLimit   int      `toml:"rate_limit_per_min,omitempty"`
	PageSize    int      `toml:"page_size,omitempty"`
	Incremental bool     `toml:"incremental"` // supports watermark-based pulls
}

// Validate checks structural validity of a descriptor.
func (d *Descriptor) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("connector type required")
	}
	if d.Name == "" {
		return fmt.Errorf("connector %s: name required", d.Type)
	}
	if len(d.Entities) == 0 {
		return fmt.Errorf("connector %s: at least one entity required", d.Type)
	}
	return nil
}

// SyncResult is what a sync worker reports back after pulling a connector.
type SyncResult struct {
	ConnectorType string         `json:"connector_type"`
	RecordCounts  map[string]int `json:"record_counts"` // entity type -> count
	Duration      time.Duration  `json:"duration"`
	Errors        []string       `json:"errors,omitempty"`
}

// Total sums the record counts across entity types.
func (r *SyncResult) Total() int {
	var n int
	for _, c := range r.RecordCounts {
		n += c
	}
	return n
}

// Catalog holds the loaded connector descriptors.
type Catalog struct {
	mu     sync.RWMutex
	byType map[string]*Descriptor
	logger *slog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		byType: make(map[string]*Descriptor),
		logger: logger.With("component", "connectors"),
	}
}

// LoadDir loads every *.toml descriptor under dir. Malformed files are
// logged and skipped so one bad descriptor cannot block startup.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Warn("connectors dir missing", "dir", dir)
			return nil
		}
		return fmt.Errorf("read connectors dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		var desc Descriptor
		if _, err := toml.DecodeFile(path, &desc); err != nil {
			c.logger.Warn("failed to parse connector descriptor", "path", path, "error", err)
			continue
		}
		if err := desc.Validate(); err != nil {
			c.logger.Warn("invalid connector descriptor", "path", path, "error", err)
			continue
		}

		c.mu.Lock()
		c.byType[desc.Type] = &desc
		c.mu.Unlock()

		c.logger.Info("connector loaded", "type", desc.Type, "entities", len(desc.Entities))
	}

	return nil
}

// Get returns the descriptor for a connector type.
func (c *Catalog) Get(connectorType string) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byType[connectorType]
	return d, ok
}

// Types returns all known connector types.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.byType))
	for t := range c.byType {
		types = append(types, t)
	}
	return types
}
