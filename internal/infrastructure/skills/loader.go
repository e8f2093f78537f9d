// Package skills loads skill manifests from the state directory. A skill is
// a directory under <home>/skills/ with a skill.yaml declaring a prompt
// fragment and optionally the tools it relies on.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manifest is the parsed skill.yaml.
type Manifest struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Prompt      string   `yaml:"prompt"`
	Tools       []string `yaml:"tools,omitempty"`
	Disabled    bool     `yaml:"disabled,omitempty"`
}

func (m *Manifest) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(m.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	return nil
}

// ParseManifest reads and validates one skill.yaml.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse skill manifest %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid skill manifest %s: %w", path, err)
	}
	return &m, nil
}

// Loader holds the skills discovered at startup. Reload rescans on demand.
type Loader struct {
	dir    string
	logger *zap.Logger

	mu     sync.RWMutex
	skills []*Manifest
}

func NewLoader(home string, logger *zap.Logger) *Loader {
	return &Loader{dir: filepath.Join(home, "skills"), logger: logger}
}

// Reload rescans the skills directory. Broken manifests are logged and
// skipped so one bad skill never takes the rest down.
func (l *Loader) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			l.mu.Lock()
			l.skills = nil
			l.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read skills dir %s: %w", l.dir, err)
	}

	var loaded []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name(), "skill.yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		m, err := ParseManifest(path)
		if err != nil {
			l.logger.Warn("skipping broken skill", zap.String("path", path), zap.Error(err))
			continue
		}
		if m.Disabled {
			l.logger.Debug("skill disabled", zap.String("skill", m.Name))
			continue
		}
		loaded = append(loaded, m)
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Name < loaded[j].Name })

	l.mu.Lock()
	l.skills = loaded
	l.mu.Unlock()
	l.logger.Info("skills loaded", zap.Int("count", len(loaded)))
	return nil
}

// PromptFragments renders each skill as a section for the system prompt.
func (l *Loader) PromptFragments() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fragments := make([]string, 0, len(l.skills))
	for _, s := range l.skills {
		var sb strings.Builder
		fmt.Fprintf(&sb, "### %s\n", s.Name)
		if desc := strings.TrimSpace(s.Description); desc != "" {
			sb.WriteString(desc)
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(s.Prompt))
		if len(s.Tools) > 0 {
			fmt.Fprintf(&sb, "\nTools: %s", strings.Join(s.Tools, ", "))
		}
		fragments = append(fragments, sb.String())
	}
	return fragments
}

// List returns the loaded skill manifests, for /status.
func (l *Loader) List() []Manifest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Manifest, len(l.skills))
	for i, s := range l.skills {
		out[i] = *s
	}
	return out
}
