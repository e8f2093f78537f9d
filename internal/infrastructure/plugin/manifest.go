package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ToolDecl declares one tool exported by an external server or plugin.
type ToolDecl struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Schema      map[string]interface{} `json:"schema,omitempty"`
}

// ServerConfig is one entry in mcp_servers.json or a plugin.json manifest.
// The process at Command speaks newline-delimited JSON on stdio: one request
// {"tool": ..., "args": {...}} in, one response {"output": ..., "error": ...}
// out.
type ServerConfig struct {
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Tools    []ToolDecl        `json:"tools"`
	Disabled bool              `json:"disabled,omitempty"`
}

func (c *ServerConfig) validate(name string) error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("server %s: command is required", name)
	}
	if len(c.Tools) == 0 {
		return fmt.Errorf("server %s: declares no tools", name)
	}
	for _, t := range c.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("server %s: tool with empty name", name)
		}
	}
	return nil
}

// ParseServers reads mcp_servers.json, a map of server name to config.
// A missing file means no servers, not an error.
func ParseServers(path string) (map[string]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var servers map[string]*ServerConfig
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for name, cfg := range servers {
		if cfg == nil {
			return nil, fmt.Errorf("server %s: empty config", name)
		}
		if err := cfg.validate(name); err != nil {
			return nil, err
		}
	}
	return servers, nil
}

// ParseManifest reads a plugin.json inside a plugins/<name>/ directory.
// Plugins use the same shape and stdio protocol as MCP servers.
func ParseManifest(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}
