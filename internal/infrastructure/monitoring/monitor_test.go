package monitoring

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Monitor) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMonitorExposesCounters(t *testing.T) {
	m := NewMonitor()
	m.LLMCall("anthropic", "claude-sonnet-4-20250514", false)
	m.LLMCall("anthropic", "claude-sonnet-4-20250514", true)
	m.LLMError("openai")
	m.Request("http")
	m.ToolCall("exec", true, 120*time.Millisecond)
	m.SessionOpened()

	body := scrape(t, m)
	for _, want := range []string{
		`salmalm_llm_calls_total{cached="false",model="claude-sonnet-4-20250514",provider="anthropic"} 1`,
		`salmalm_llm_calls_total{cached="true",model="claude-sonnet-4-20250514",provider="anthropic"} 1`,
		`salmalm_llm_errors_total{provider="openai"} 1`,
		`salmalm_requests_total{channel="http"} 1`,
		`salmalm_tool_calls_total{success="true",tool="exec"} 1`,
		`salmalm_active_sessions 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMonitorIndependentRegistries(t *testing.T) {
	// Two monitors must not collide on registration.
	a := NewMonitor()
	b := NewMonitor()
	a.Request("http")
	if body := scrape(t, b); strings.Contains(body, `salmalm_requests_total{channel="http"} 1`) {
		t.Error("registries shared state")
	}
}

func TestUptimeAdvances(t *testing.T) {
	m := NewMonitor()
	if m.Uptime() < 0 {
		t.Error("negative uptime")
	}
}
