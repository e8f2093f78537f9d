package security

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// PathArgNames are the tool-argument keys that carry filesystem paths and
// therefore go through sanitization before any tool sees them.
var PathArgNames = map[string]bool{
	"path":       true,
	"file_path":  true,
	"image_path": true,
	"audio_path": true,
	"file1":      true,
	"file2":      true,
}

// sensitivePrefixes are rejected outright, read or write.
var sensitivePrefixes = []string{
	"/etc/", "/var/", "/root/", "/proc/", "/sys/",
	`c:\windows`, `c:\system`,
}

// envVarPattern matches $VAR and ${VAR} expansions.
var envVarPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}|\$[A-Za-z_][A-Za-z0-9_]*`)

// StripEnvExpansion removes $VAR/${VAR} references from a non-command
// argument so tool args can never smuggle environment values.
func StripEnvExpansion(s string) string {
	return envVarPattern.ReplaceAllString(s, "")
}

// PathPolicy decides which resolved paths a tool may touch.
type PathPolicy struct {
	Workspace     string // write-allowed root
	Home          string // read-allowed root when AllowHomeRead
	AllowHomeRead bool
}

// NewPathPolicy resolves the workspace root once at construction.
func NewPathPolicy(workspace string, allowHomeRead bool) (*PathPolicy, error) {
	ws, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	home, _ := os.UserHomeDir()
	return &PathPolicy{Workspace: ws, Home: home, AllowHomeRead: allowHomeRead}, nil
}

// Sanitize resolves raw (following symlinks on the existing prefix) and
// rejects anything outside the allowed roots. forWrite restricts to the
// workspace; reads may additionally reach the home directory when enabled.
// The returned path is absolute and normalized with no ".." segments.
func (p *PathPolicy) Sanitize(raw string, forWrite bool) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("empty path")
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(p.Workspace, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	lower := strings.ToLower(filepath.ToSlash(resolved))
	for _, prefix := range sensitivePrefixes {
		if strings.HasPrefix(lower, strings.ToLower(filepath.ToSlash(prefix))) {
			return "", fmt.Errorf("Path traversal blocked: %s is in a protected location", raw)
		}
	}

	if within(resolved, p.Workspace) {
		return resolved, nil
	}
	if !forWrite && p.AllowHomeRead && p.Home != "" && within(resolved, p.Home) {
		return resolved, nil
	}
	return "", fmt.Errorf("Path traversal blocked: %s escapes the workspace", raw)
}

// resolveSymlinks follows links on the longest existing ancestor, then joins
// the not-yet-existing remainder back on. Lets tools create new files while
// still catching links that point outside the allowed roots.
func resolveSymlinks(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Join(current, remainder), nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func within(path, root string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if runtime.GOOS == "windows" {
		rel = strings.ToLower(rel)
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
