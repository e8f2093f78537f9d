package tool

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	domaintool "github.com/salmalm/salmalm/internal/domain/tool"
	"github.com/salmalm/salmalm/internal/infrastructure/persistence"
	"github.com/salmalm/salmalm/internal/infrastructure/security"
)

type memAudit struct {
	mu      sync.Mutex
	entries []persistence.AuditEntry
}

func (m *memAudit) Append(e persistence.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func testExecutor(t *testing.T) (*Executor, *domaintool.Registry, string) {
	t.Helper()
	ws := t.TempDir()
	policy, err := security.NewPathPolicy(ws, false)
	if err != nil {
		t.Fatal(err)
	}
	reg := domaintool.NewRegistry()
	return NewExecutor(reg, policy, zap.NewNop()), reg, ws
}

func echoSpec(tier int) domaintool.Spec {
	return domaintool.Spec{
		Name:        "echo",
		Description: "echo",
		Kind:        domaintool.KindRead,
		Tier:        tier,
		Schema:      objectSchema(map[string]interface{}{"text": map[string]interface{}{"type": "string"}}),
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			s, _ := args["text"].(string)
			return s, nil
		},
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	exec, _, _ := testExecutor(t)
	out := exec.Execute(context.Background(), entity.ToolCall{Name: "nope"}, "s", 3)
	if !strings.HasPrefix(out, "❌ unknown tool") {
		t.Errorf("out = %q", out)
	}
}

func TestExecuteTierGate(t *testing.T) {
	exec, reg, _ := testExecutor(t)
	if err := reg.Register(echoSpec(3)); err != nil {
		t.Fatal(err)
	}
	out := exec.Execute(context.Background(),
		entity.ToolCall{Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}, "s", 1)
	if !strings.Contains(out, "requires permission tier 3") {
		t.Errorf("out = %q", out)
	}
	out = exec.Execute(context.Background(),
		entity.ToolCall{Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}, "s", 3)
	if out != "hi" {
		t.Errorf("out = %q", out)
	}
}

func TestExecuteSanitizesPaths(t *testing.T) {
	exec, reg, ws := testExecutor(t)
	var gotPath string
	reg.Register(domaintool.Spec{
		Name: "peek", Kind: domaintool.KindRead,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			gotPath, _ = args["path"].(string)
			return "ok", nil
		},
	})

	out := exec.Execute(context.Background(),
		entity.ToolCall{Name: "peek", Arguments: map[string]interface{}{"path": "../../etc/passwd"}}, "s", 1)
	if !strings.HasPrefix(out, "❌") {
		t.Errorf("traversal passed: %q", out)
	}

	out = exec.Execute(context.Background(),
		entity.ToolCall{Name: "peek", Arguments: map[string]interface{}{"path": "notes.txt"}}, "s", 1)
	if out != "ok" {
		t.Fatalf("out = %q", out)
	}
	if gotPath != filepath.Join(ws, "notes.txt") {
		t.Errorf("path = %q", gotPath)
	}
}

func TestExecuteStripsEnvExpansion(t *testing.T) {
	exec, reg, _ := testExecutor(t)
	reg.Register(echoSpec(0))
	out := exec.Execute(context.Background(),
		entity.ToolCall{Name: "echo", Arguments: map[string]interface{}{"text": "token is $SECRET and ${OTHER}"}}, "s", 1)
	if strings.Contains(out, "$") {
		t.Errorf("expansion survived: %q", out)
	}
}

func TestExecuteMalformedArguments(t *testing.T) {
	exec, reg, _ := testExecutor(t)
	reg.Register(echoSpec(0))
	out := exec.Execute(context.Background(),
		entity.ToolCall{Name: "echo", Arguments: map[string]interface{}{"raw": "{not json"}}, "s", 1)
	if !strings.Contains(out, "invalid tool arguments") {
		t.Errorf("out = %q", out)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	exec, reg, _ := testExecutor(t)
	reg.Register(domaintool.Spec{
		Name: "boom", Kind: domaintool.KindRead,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			panic("kaboom")
		},
	})
	out := exec.Execute(context.Background(), entity.ToolCall{Name: "boom"}, "s", 1)
	if !strings.Contains(out, "crashed") {
		t.Errorf("out = %q", out)
	}
}

func TestExecuteAudits(t *testing.T) {
	exec, reg, _ := testExecutor(t)
	reg.Register(echoSpec(0))
	audit := &memAudit{}
	exec.SetAuditor(audit)

	exec.Execute(context.Background(),
		entity.ToolCall{Name: "echo", Arguments: map[string]interface{}{"text": "sk-ant-REDACTED"}}, "sess-1", 1)

	if len(audit.entries) != 1 {
		t.Fatalf("entries = %d", len(audit.entries))
	}
	e := audit.entries[0]
	if e.Tool != "echo" || e.SessionID != "sess-1" || !e.OK {
		t.Errorf("entry = %+v", e)
	}
	if strings.Contains(e.Args, "sk-ant-REDACTED") {
		t.Error("secret leaked into audit args")
	}
}

func TestDefinitionsSorted(t *testing.T) {
	exec, reg, _ := testExecutor(t)
	reg.Register(domaintool.Spec{Name: "zulu", Kind: domaintool.KindRead,
		Handler: func(context.Context, map[string]interface{}) (string, error) { return "", nil }})
	reg.Register(domaintool.Spec{Name: "alpha", Kind: domaintool.KindRead,
		Handler: func(context.Context, map[string]interface{}) (string, error) { return "", nil }})
	defs := exec.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zulu" {
		t.Errorf("defs = %+v", defs)
	}
}
