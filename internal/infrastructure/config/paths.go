package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Path helpers over the persisted state layout under the home directory.

func (c *Config) VaultPath() string      { return filepath.Join(c.Home, "vault") }
func (c *Config) SessionsDir() string    { return filepath.Join(c.Home, "sessions") }
func (c *Config) MemoryDir() string      { return filepath.Join(c.Home, "memory") }
func (c *Config) MemoryIndexPath() string { return filepath.Join(c.Home, "MEMORY.md") }
func (c *Config) WorkspaceDir() string   { return filepath.Join(c.Home, "workspace") }
func (c *Config) UploadsDir() string     { return filepath.Join(c.Home, "uploads") }
func (c *Config) CertsDir() string       { return filepath.Join(c.Home, "certs") }
func (c *Config) PluginsDir() string     { return filepath.Join(c.Home, "plugins") }
func (c *Config) SkillsDir() string      { return filepath.Join(c.Home, "skills") }
func (c *Config) MCPServersPath() string { return filepath.Join(c.Home, "mcp_servers.json") }
func (c *Config) NodesPath() string      { return filepath.Join(c.Home, "nodes.json") }
// LocalDBPath is the sqlite file holding the append-heavy audit and cron
// tables. It stays local even when sessions live in postgres.
func (c *Config) LocalDBPath() string { return filepath.Join(c.Home, "salmalm.db") }

// Bootstrap ensures the home directory tree exists. Only creates what is
// missing; never overwrites user state. Safe to call repeatedly.
func (c *Config) Bootstrap(logger *zap.Logger) error {
	dirs := []string{
		c.Home,
		c.SessionsDir(),
		c.MemoryDir(),
		c.WorkspaceDir(),
		c.UploadsDir(),
		c.CertsDir(),
		c.PluginsDir(),
		c.SkillsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(c.MemoryIndexPath()); os.IsNotExist(err) {
		if err := os.WriteFile(c.MemoryIndexPath(), []byte("# Memory\n"), 0o644); err != nil {
			logger.Warn("Failed to seed memory index", zap.Error(err))
		}
	}

	logger.Debug("Home directory OK", zap.String("home", c.Home))
	return nil
}
