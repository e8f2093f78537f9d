package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	apperrors "github.com/salmalm/salmalm/pkg/errors"
)

func testStore(t *testing.T) (*Store, string) {
	t.Helper()
	home := t.TempDir()
	s, err := NewStore(home, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s, home
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Project Deadlines":  "project-deadlines",
		"  weird / name!  ":  "weird-name",
		"already-fine":       "already-fine",
		strings.Repeat("long", 30): strings.Repeat("long", 16),
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSaveReadDelete(t *testing.T) {
	s, home := testStore(t)
	if err := s.Save("User Preferences", "Prefers short answers."); err != nil {
		t.Fatal(err)
	}

	content, err := s.Read("user preferences")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(content, "Prefers short answers.") {
		t.Errorf("content = %q", content)
	}

	index, err := os.ReadFile(filepath.Join(home, "MEMORY.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(index), "memory/user-preferences.md") {
		t.Errorf("index = %q", index)
	}

	if err := s.Delete("User Preferences"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read("User Preferences"); !apperrors.IsNotFound(err) {
		t.Errorf("read after delete: %v", err)
	}
	index, _ = os.ReadFile(filepath.Join(home, "MEMORY.md"))
	if strings.Contains(string(index), "user-preferences") {
		t.Error("index still lists deleted memory")
	}
}

func TestSearchFindsLines(t *testing.T) {
	s, _ := testStore(t)
	s.Save("servers", "The staging box is at 10.0.0.5.")
	s.Save("coffee", "Espresso at 9am.")

	hits, err := s.Search("staging")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || !strings.Contains(hits[0], "servers:") {
		t.Errorf("hits = %v", hits)
	}

	hits, _ = s.Search("nothing-matches-this")
	if len(hits) != 0 {
		t.Errorf("hits = %v", hits)
	}
}

func TestIndexEmptyWhenNoMemories(t *testing.T) {
	s, _ := testStore(t)
	if got := s.Index(); got != "" {
		t.Errorf("index = %q", got)
	}
}
