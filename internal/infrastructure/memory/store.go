// Package memory persists long-term agent memory as markdown files: one
// file per topic under <home>/memory/ plus a MEMORY.md index whose content
// is injected into the system prompt.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/pkg/errors"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9-]+`)

// Slugify turns a topic name into a safe filename stem.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugPattern.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// Store reads and writes the markdown memory files.
type Store struct {
	dir       string
	indexPath string
	mu        sync.Mutex
	logger    *zap.Logger
}

func NewStore(home string, logger *zap.Logger) (*Store, error) {
	dir := filepath.Join(home, "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "create memory dir", err)
	}
	return &Store{
		dir:       dir,
		indexPath: filepath.Join(home, "MEMORY.md"),
		logger:    logger.With(zap.String("component", "memory")),
	}, nil
}

// Save writes (or overwrites) one topic file and refreshes the index.
func (s *Store) Save(name, content string) error {
	slug := Slugify(name)
	if slug == "" {
		return errors.NewInvalidInputError("memory name is empty after slugify")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	body := fmt.Sprintf("# %s\n\n%s\n\n_updated %s_\n",
		name, strings.TrimSpace(content), time.Now().Format("2006-01-02"))
	path := filepath.Join(s.dir, slug+".md")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return errors.Wrap(errors.CodeInternal, "write memory file", err)
	}
	s.logger.Info("Memory saved", zap.String("slug", slug))
	return s.rebuildIndex()
}

// Read returns one topic's content.
func (s *Store) Read(name string) (string, error) {
	slug := Slugify(name)
	data, err := os.ReadFile(filepath.Join(s.dir, slug+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewNotFoundError("no memory named " + slug)
		}
		return "", errors.Wrap(errors.CodeInternal, "read memory file", err)
	}
	return string(data), nil
}

// Delete removes one topic and refreshes the index.
func (s *Store) Delete(name string) error {
	slug := Slugify(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(filepath.Join(s.dir, slug+".md")); err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("no memory named " + slug)
		}
		return errors.Wrap(errors.CodeInternal, "delete memory file", err)
	}
	return s.rebuildIndex()
}

// List returns the topic slugs, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "list memory dir", err)
	}
	var slugs []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".md"); ok && !e.IsDir() {
			slugs = append(slugs, name)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// Search does a case-insensitive substring scan over all topic files and
// returns matching lines prefixed with their slug.
func (s *Store) Search(query string) ([]string, error) {
	slugs, err := s.List()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var hits []string
	for _, slug := range slugs {
		data, err := os.ReadFile(filepath.Join(s.dir, slug+".md"))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				hits = append(hits, slug+": "+strings.TrimSpace(line))
				if len(hits) >= 50 {
					return hits, nil
				}
			}
		}
	}
	return hits, nil
}

// Index returns the MEMORY.md content for prompt injection. Empty when no
// memories exist.
func (s *Store) Index() string {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		return ""
	}
	return string(data)
}

// rebuildIndex regenerates MEMORY.md from the topic files' first headings.
// Caller holds s.mu.
func (s *Store) rebuildIndex() error {
	slugs, err := s.List()
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString("# Memory Index\n\n")
	for _, slug := range slugs {
		title := slug
		if data, err := os.ReadFile(filepath.Join(s.dir, slug+".md")); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if t, ok := strings.CutPrefix(line, "# "); ok {
					title = strings.TrimSpace(t)
					break
				}
			}
		}
		fmt.Fprintf(&sb, "- %s (memory/%s.md)\n", title, slug)
	}
	if err := os.WriteFile(s.indexPath, []byte(sb.String()), 0o644); err != nil {
		return errors.Wrap(errors.CodeInternal, "write memory index", err)
	}
	return nil
}
