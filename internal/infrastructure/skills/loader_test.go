package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func writeSkill(t *testing.T, home, name, manifest string) {
	t.Helper()
	dir := filepath.Join(home, "skills", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skill.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReloadLoadsManifests(t *testing.T) {
	home := t.TempDir()
	writeSkill(t, home, "weather", `
name: weather
description: Fetch forecasts.
prompt: Use the weather skill for forecast questions.
tools: [exec]
`)
	writeSkill(t, home, "broken", "name: only-a-name\n")
	writeSkill(t, home, "off", `
name: off
prompt: never seen
disabled: true
`)

	l := NewLoader(home, zap.NewNop())
	if err := l.Reload(); err != nil {
		t.Fatal(err)
	}

	list := l.List()
	if len(list) != 1 || list[0].Name != "weather" {
		t.Fatalf("list = %+v", list)
	}

	fragments := l.PromptFragments()
	if len(fragments) != 1 {
		t.Fatalf("fragments = %v", fragments)
	}
	for _, want := range []string{"### weather", "Fetch forecasts.", "Tools: exec"} {
		if !strings.Contains(fragments[0], want) {
			t.Errorf("fragment missing %q:\n%s", want, fragments[0])
		}
	}
}

func TestReloadMissingDirIsEmpty(t *testing.T) {
	l := NewLoader(t.TempDir(), zap.NewNop())
	if err := l.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := l.PromptFragments(); len(got) != 0 {
		t.Errorf("fragments = %v", got)
	}
}

func TestReloadSortsByName(t *testing.T) {
	home := t.TempDir()
	writeSkill(t, home, "zeta", "name: zeta\nprompt: z\n")
	writeSkill(t, home, "alpha", "name: alpha\nprompt: a\n")

	l := NewLoader(home, zap.NewNop())
	if err := l.Reload(); err != nil {
		t.Fatal(err)
	}
	list := l.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Errorf("list = %+v", list)
	}
}
