// Package plugin surfaces external tool servers as registry entries. Two
// sources feed it: mcp_servers.json in the home directory, and plugins/<name>/
// directories carrying a plugin.json. Both kinds speak the same one-shot
// stdio JSON protocol, so a plugin is just an MCP server discovered from a
// directory instead of the config file.
package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
	"github.com/salmalm/salmalm/pkg/safego"
)

const dispatchTimeout = 60 * time.Second

// Loader discovers external tool servers and keeps the tool registry in
// sync with them across config edits.
type Loader struct {
	home     string
	registry *domaintool.Registry
	logger   *zap.Logger

	mu         sync.Mutex
	registered []string
	watcher    *fsnotify.Watcher
	reload     *time.Timer
}

func NewLoader(home string, registry *domaintool.Registry, logger *zap.Logger) *Loader {
	return &Loader{home: home, registry: registry, logger: logger}
}

// Load rescans both sources and swaps the registered tool set. Safe to call
// repeatedly; tools from the previous scan are unregistered first.
func (l *Loader) Load() error {
	servers, err := ParseServers(filepath.Join(l.home, "mcp_servers.json"))
	if err != nil {
		return err
	}
	merged := make(map[string]*ServerConfig, len(servers))
	for name, cfg := range servers {
		merged[name] = cfg
	}
	for name, cfg := range l.scanPlugins() {
		if _, taken := merged[name]; taken {
			l.logger.Warn("plugin name collides with MCP server, skipping",
				zap.String("name", name))
			continue
		}
		merged[name] = cfg
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range l.registered {
		l.registry.Unregister(name)
	}
	l.registered = l.registered[:0]

	for server, cfg := range merged {
		if cfg.Disabled {
			continue
		}
		for _, decl := range cfg.Tools {
			spec := domaintool.Spec{
				Name:        decl.Name,
				Description: decl.Description,
				Kind:        domaintool.KindNetwork,
				Tier:        2,
				Timeout:     dispatchTimeout,
				Schema:      decl.Schema,
				Handler:     l.dispatcher(server, cfg, decl.Name),
			}
			if err := l.registry.Register(spec); err != nil {
				l.logger.Warn("external tool name taken, skipping",
					zap.String("server", server), zap.String("tool", decl.Name))
				continue
			}
			l.registered = append(l.registered, decl.Name)
		}
	}
	l.logger.Info("external tools registered",
		zap.Int("servers", len(merged)), zap.Int("tools", len(l.registered)))
	return nil
}

// scanPlugins walks plugins/*/plugin.json. Broken manifests are skipped.
func (l *Loader) scanPlugins() map[string]*ServerConfig {
	dir := filepath.Join(l.home, "plugins")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	found := make(map[string]*ServerConfig)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name(), "plugin.json")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		cfg, err := ParseManifest(path)
		if err != nil {
			l.logger.Warn("skipping broken plugin", zap.String("path", path), zap.Error(err))
			continue
		}
		// Relative commands resolve against the plugin's own directory.
		if !filepath.IsAbs(cfg.Command) && strings.ContainsRune(cfg.Command, os.PathSeparator) {
			cfg.Command = filepath.Join(dir, entry.Name(), cfg.Command)
		}
		found[entry.Name()] = cfg
	}
	return found
}

type stdioRequest struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

type stdioResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// dispatcher builds the handler for one declared tool: spawn the server
// process, write the request, read the response.
func (l *Loader) dispatcher(server string, cfg *ServerConfig, tool string) domaintool.Handler {
	command, args := cfg.Command, cfg.Args
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	return func(ctx context.Context, callArgs map[string]interface{}) (string, error) {
		payload, err := json.Marshal(stdioRequest{Tool: tool, Args: callArgs})
		if err != nil {
			return "", fmt.Errorf("encode request for %s: %w", tool, err)
		}

		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = append(os.Environ(), env...)
		cmd.Stdin = bytes.NewReader(append(payload, '\n'))
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.WaitDelay = 5 * time.Second

		if err := cmd.Run(); err != nil {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = err.Error()
			}
			return "", fmt.Errorf("%s (%s): %s", tool, server, detail)
		}

		var resp stdioResponse
		if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
			// Servers that answer with plain text still work.
			return strings.TrimSpace(stdout.String()), nil
		}
		if resp.Error != "" {
			return "", fmt.Errorf("%s (%s): %s", tool, server, resp.Error)
		}
		return resp.Output, nil
	}
}

// Watch reloads whenever mcp_servers.json or the plugins tree changes.
// Events arrive in bursts (editors write-then-rename), so reloads are
// debounced.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(l.home); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", l.home, err)
	}
	pluginDir := filepath.Join(l.home, "plugins")
	if _, statErr := os.Stat(pluginDir); statErr == nil {
		if err := watcher.Add(pluginDir); err != nil {
			l.logger.Warn("cannot watch plugins dir", zap.Error(err))
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	safego.GoCtx(ctx, l.logger, "plugin-watcher", func(ctx context.Context) {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if l.relevant(event) {
					l.scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	})
	return nil
}

func (l *Loader) relevant(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	return base == "mcp_servers.json" || base == "plugin.json" ||
		filepath.Dir(event.Name) == filepath.Join(l.home, "plugins")
}

func (l *Loader) scheduleReload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reload != nil {
		l.reload.Stop()
	}
	l.reload = time.AfterFunc(500*time.Millisecond, func() {
		if err := l.Load(); err != nil {
			l.logger.Error("external tool reload failed", zap.Error(err))
		}
	})
}

// Names reports the currently registered external tool names.
func (l *Loader) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.registered))
	copy(out, l.registered)
	return out
}
