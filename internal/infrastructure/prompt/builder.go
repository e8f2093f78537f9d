// Package prompt assembles the system prompt for every session. The part
// above the CACHE_BOUNDARY marker is stable across turns so providers with
// prompt caching reuse it; everything time- or state-dependent goes below.
package prompt

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// CacheBoundary splits the system prompt into a cacheable head and a
// per-turn tail. The anthropic adapter turns it into a two-block system
// with cache markers.
const CacheBoundary = "<!-- CACHE_BOUNDARY -->"

const defaultIdentity = `You are SalmAlm, a personal AI assistant with access to tools.
Be direct and concise. Use tools when a task calls for them instead of
describing what the user could do by hand. When a tool fails, say what
failed and what you tried.`

// MemorySource supplies the long-term memory index for injection.
type MemorySource interface {
	Index() string
}

// SkillSource supplies prompt fragments from installed skills.
type SkillSource interface {
	PromptFragments() []string
}

// Builder renders the system prompt. Identity text is operator-editable
// via config; runtime facts are collected fresh on every build.
type Builder struct {
	mu        sync.RWMutex
	identity  string
	workspace string
	memory    MemorySource
	skills    SkillSource
}

func NewBuilder(identity, workspace string) *Builder {
	if strings.TrimSpace(identity) == "" {
		identity = defaultIdentity
	}
	return &Builder{identity: identity, workspace: workspace}
}

// SetMemory wires the markdown memory store in. Optional.
func (b *Builder) SetMemory(m MemorySource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory = m
}

// SetSkills wires the skill loader in. Optional.
func (b *Builder) SetSkills(s SkillSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.skills = s
}

// SetIdentity replaces the identity text at runtime (config reload).
func (b *Builder) SetIdentity(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strings.TrimSpace(identity) != "" {
		b.identity = identity
	}
}

// Build renders the full system prompt for one session.
func (b *Builder) Build(sessionID string) string {
	b.mu.RLock()
	identity := b.identity
	workspace := b.workspace
	memory := b.memory
	skills := b.skills
	b.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString(identity)

	if skills != nil {
		if fragments := skills.PromptFragments(); len(fragments) > 0 {
			sb.WriteString("\n\n## Skills\n\n")
			sb.WriteString(strings.Join(fragments, "\n\n"))
		}
	}

	sb.WriteString("\n\n")
	sb.WriteString(CacheBoundary)
	sb.WriteString("\n\n")
	sb.WriteString(runtimeBlock(sessionID, workspace))

	if memory != nil {
		if index := strings.TrimSpace(memory.Index()); index != "" {
			sb.WriteString("\n\n## Long-term Memory\n\n")
			sb.WriteString(index)
			sb.WriteString("\nUse memory_read to pull in a topic when it is relevant.")
		}
	}
	return sb.String()
}

// runtimeBlock is the factual environment section. No behavioral
// directives here; those live in the identity text.
func runtimeBlock(sessionID, workspace string) string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf(`## Environment

- System: %s/%s | Host: %s
- Time: %s
- Session: %s
- Workspace: %s

File tools operate inside the workspace; paths outside it are rejected.`,
		runtime.GOOS, runtime.GOARCH, hostname,
		time.Now().Format("2006-01-02 15:04 MST"),
		sessionID, workspace)
}
