package tool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
	"github.com/salmalm/salmalm/internal/infrastructure/security"
)

func builtinExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	ws := t.TempDir()
	policy, err := security.NewPathPolicy(ws, false)
	if err != nil {
		t.Fatal(err)
	}
	reg := domaintool.NewRegistry()
	if err := RegisterBuiltins(reg, BuiltinDeps{
		Guard:   &security.ExecGuard{},
		WorkDir: ws,
		Logger:  zap.NewNop(),
	}); err != nil {
		t.Fatal(err)
	}
	return NewExecutor(reg, policy, zap.NewNop()), ws
}

func call(name string, args map[string]interface{}) entity.ToolCall {
	return entity.ToolCall{ID: "c", Name: name, Arguments: args}
}

func TestFileToolsRoundTrip(t *testing.T) {
	exec, ws := builtinExecutor(t)
	ctx := context.Background()

	out := exec.Execute(ctx, call("write_file", map[string]interface{}{
		"path": "sub/hello.txt", "content": "hello world",
	}), "s", 3)
	if strings.HasPrefix(out, "❌") {
		t.Fatalf("write: %q", out)
	}

	out = exec.Execute(ctx, call("read_file", map[string]interface{}{"path": "sub/hello.txt"}), "s", 3)
	if out != "hello world" {
		t.Fatalf("read: %q", out)
	}

	out = exec.Execute(ctx, call("edit_file", map[string]interface{}{
		"path": "sub/hello.txt", "old": "world", "new": "there",
	}), "s", 3)
	if strings.HasPrefix(out, "❌") {
		t.Fatalf("edit: %q", out)
	}
	data, _ := os.ReadFile(filepath.Join(ws, "sub", "hello.txt"))
	if string(data) != "hello there" {
		t.Errorf("file = %q", data)
	}

	out = exec.Execute(ctx, call("list_dir", map[string]interface{}{"path": "sub"}), "s", 3)
	if out != "hello.txt" {
		t.Errorf("list: %q", out)
	}
}

func TestEditFileOldTextMissing(t *testing.T) {
	exec, ws := builtinExecutor(t)
	os.WriteFile(filepath.Join(ws, "a.txt"), []byte("content"), 0o644)
	out := exec.Execute(context.Background(), call("edit_file", map[string]interface{}{
		"path": "a.txt", "old": "absent", "new": "x",
	}), "s", 3)
	if !strings.Contains(out, "old text not found") {
		t.Errorf("out = %q", out)
	}
}

func TestReadFileRejectsEscape(t *testing.T) {
	exec, _ := builtinExecutor(t)
	out := exec.Execute(context.Background(),
		call("read_file", map[string]interface{}{"path": "/etc/passwd"}), "s", 3)
	if !strings.HasPrefix(out, "❌") {
		t.Errorf("out = %q", out)
	}
}

func TestExecToolRunsAllowlisted(t *testing.T) {
	exec, _ := builtinExecutor(t)
	out := exec.Execute(context.Background(),
		call("exec", map[string]interface{}{"command": "echo hello"}), "s", 3)
	if out != "hello" {
		t.Errorf("out = %q", out)
	}
}

func TestExecToolBlocksDenied(t *testing.T) {
	exec, _ := builtinExecutor(t)
	for _, cmd := range []string{
		"rm -rf /",
		"python3 -c 'print(1)'",
		"echo hi | sh",
	} {
		out := exec.Execute(context.Background(),
			call("exec", map[string]interface{}{"command": cmd}), "s", 3)
		if !strings.HasPrefix(out, "❌") {
			t.Errorf("command %q passed: %q", cmd, out)
		}
	}
}

func TestExecToolRequiresTier(t *testing.T) {
	exec, _ := builtinExecutor(t)
	out := exec.Execute(context.Background(),
		call("exec", map[string]interface{}{"command": "echo hi"}), "s", 1)
	if !strings.Contains(out, "requires permission tier") {
		t.Errorf("out = %q", out)
	}
}
