package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader discovers and parses skill definition files from a directory.
// Definitions are YAML documents named *.skill.yaml.
type Loader struct {
	skillsDir string
	logger    *slog.Logger
}

// NewLoader creates a loader that scans the given directory.
func NewLoader(skillsDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		skillsDir: skillsDir,
		logger:    logger.With("component", "skill_loader"),
	}
}

// LoadAll parses every skill definition in the directory. A malformed
// file is logged and skipped; it does not fail the whole load.
func (l *Loader) LoadAll() ([]*Definition, error) {
	entries, err := os.ReadDir(l.skillsDir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("skills directory does not exist, skipping", "dir", l.skillsDir)
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".skill.yaml") {
			continue
		}
		path := filepath.Join(l.skillsDir, entry.Name())
		def, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("failed to load skill definition", "path", path, "error", err)
			continue
		}
		defs = append(defs, def)
		l.logger.Info("loaded skill", "skill", def.ID, "version", def.Version, "steps", len(def.Steps))
	}
	return defs, nil
}

// loadFile parses and validates a single definition file.
func (l *Loader) loadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
