package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
	"github.com/salmalm/salmalm/internal/infrastructure/security"
)

const maxFileReadBytes = 256 * 1024

// NodeDispatcher forwards a tool call to a registered remote node.
type NodeDispatcher interface {
	Dispatch(ctx context.Context, nodeName, tool string, args map[string]interface{}) (string, error)
	Has(nodeName string) bool
}

// BuiltinDeps carries what the core tools need.
type BuiltinDeps struct {
	Guard   *security.ExecGuard
	Sandbox *security.PySandbox
	Nodes   NodeDispatcher
	WorkDir string
	Logger  *zap.Logger
}

// RegisterBuiltins installs the core file, exec, and python tools.
func RegisterBuiltins(reg *domaintool.Registry, deps BuiltinDeps) error {
	specs := []domaintool.Spec{
		{
			Name:        "read_file",
			Description: "Read a text file from the workspace. Args: path.",
			Kind:        domaintool.KindRead,
			Tier:        1,
			Schema: objectSchema(map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "File path"},
			}, "path"),
			Handler: readFileHandler,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file in the workspace, creating parent directories. Args: path, content.",
			Kind:        domaintool.KindWrite,
			Tier:        2,
			Schema: objectSchema(map[string]interface{}{
				"path":    map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			}, "path", "content"),
			Handler: writeFileHandler,
		},
		{
			Name:        "edit_file",
			Description: "Replace the first occurrence of old with new inside a file. Args: path, old, new.",
			Kind:        domaintool.KindWrite,
			Tier:        2,
			Schema: objectSchema(map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
				"old":  map[string]interface{}{"type": "string"},
				"new":  map[string]interface{}{"type": "string"},
			}, "path", "old", "new"),
			Handler: editFileHandler,
		},
		{
			Name:        "list_dir",
			Description: "List a directory. Args: path.",
			Kind:        domaintool.KindRead,
			Tier:        1,
			Schema: objectSchema(map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			}, "path"),
			Handler: listDirHandler,
		},
		{
			Name:        "exec",
			Description: "Run an allowlisted shell command in the workspace. Args: command; optional node to run on a registered remote node.",
			Kind:        domaintool.KindExecute,
			Tier:        3,
			Timeout:     60 * time.Second,
			Schema: objectSchema(map[string]interface{}{
				"command": map[string]interface{}{"type": "string"},
				"node":    map[string]interface{}{"type": "string", "description": "Remote node name"},
			}, "command"),
			Handler: execHandler(deps),
		},
	}
	if deps.Sandbox != nil {
		specs = append(specs, domaintool.Spec{
			Name:        "python_eval",
			Description: "Evaluate Python code in a resource-limited subprocess. Args: code.",
			Kind:        domaintool.KindExecute,
			Tier:        3,
			Timeout:     45 * time.Second,
			Schema: objectSchema(map[string]interface{}{
				"code": map[string]interface{}{"type": "string"},
			}, "code"),
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				code, err := argString(args, "code")
				if err != nil {
					return "", err
				}
				return deps.Sandbox.Eval(ctx, code)
			},
		})
	}

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func readFileHandler(ctx context.Context, args map[string]interface{}) (string, error) {
	path, err := argString(args, "path")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxFileReadBytes {
		return string(data[:maxFileReadBytes]) +
			fmt.Sprintf("\n… [file truncated at %d bytes of %d]", maxFileReadBytes, len(data)), nil
	}
	return string(data), nil
}

func writeFileHandler(ctx context.Context, args map[string]interface{}) (string, error) {
	path, err := argString(args, "path")
	if err != nil {
		return "", err
	}
	content, err := argString(args, "content")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func editFileHandler(ctx context.Context, args map[string]interface{}) (string, error) {
	path, err := argString(args, "path")
	if err != nil {
		return "", err
	}
	oldText, err := argString(args, "old")
	if err != nil {
		return "", err
	}
	newText, err := argString(args, "new")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	content := string(data)
	if !strings.Contains(content, oldText) {
		return "", fmt.Errorf("old text not found in %s", path)
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return "edited " + path, nil
}

func listDirHandler(ctx context.Context, args map[string]interface{}) (string, error) {
	path, err := argString(args, "path")
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty)", nil
	}
	return strings.Join(names, "\n"), nil
}

func execHandler(deps BuiltinDeps) domaintool.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		command, err := argString(args, "command")
		if err != nil {
			return "", err
		}
		if nodeName, _ := args["node"].(string); nodeName != "" {
			if deps.Nodes == nil || !deps.Nodes.Has(nodeName) {
				return "", fmt.Errorf("no node named %q is connected", nodeName)
			}
			return deps.Nodes.Dispatch(ctx, nodeName, "exec",
				map[string]interface{}{"command": command})
		}
		if deps.Guard != nil {
			if err := deps.Guard.Check(command); err != nil {
				return "", err
			}
		}

		var cmd *exec.Cmd
		if deps.Guard != nil && deps.Guard.AllowShellOps {
			cmd = exec.CommandContext(ctx, "sh", "-c", command)
		} else {
			fields := strings.Fields(command)
			cmd = exec.CommandContext(ctx, fields[0], fields[1:]...)
		}
		cmd.Dir = deps.WorkDir
		cmd.Env = append(os.Environ(), "SALMALM_TOOL=1")
		// SIGTERM on deadline, SIGKILL if it lingers.
		cmd.WaitDelay = 5 * time.Second

		out, err := cmd.CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("%v\n%s", err, strings.TrimSpace(string(out)))
		}
		text := strings.TrimSpace(string(out))
		if text == "" {
			text = "(no output)"
		}
		return text, nil
	}
}

func argString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
