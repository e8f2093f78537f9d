package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/salmalm/salmalm/internal/domain/entity"
)

// Kind classifies what a tool does to the outside world. The executor keys
// path-write permission and audit detail off it.
type Kind string

const (
	KindRead    Kind = "read"
	KindWrite   Kind = "write"
	KindExecute Kind = "execute"
	KindNetwork Kind = "network"
	KindThink   Kind = "think"
)

// WriteKinds are the kinds whose path arguments must stay inside the
// workspace; read kinds may also touch the home directory when allowed.
var WriteKinds = map[Kind]bool{
	KindWrite:   true,
	KindExecute: true,
}

// Handler runs one tool call. The returned string goes back into the
// conversation as a tool_result; errors are rendered as "❌ …" strings by
// the executor, so handlers report failure via error, not panic.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Spec is one registered tool.
type Spec struct {
	Name        string
	Description string
	Kind        Kind
	Tier        int           // minimum caller tier; 0 is open to everyone
	Timeout     time.Duration // 0 means the executor default
	Schema      map[string]interface{}
	Handler     Handler
}

// Registry holds the registered tools. Registration happens at startup;
// plugins and MCP servers may add or remove entries at runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Spec
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Spec)}
}

// Register adds a tool. Re-registering a name is an error; use Unregister
// first when replacing a plugin's tools.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" || spec.Handler == nil {
		return fmt.Errorf("tool spec needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	r.tools[spec.Name] = &spec
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool spec by name.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Definitions lists the tools visible to a caller of the given tier, in
// name order so prompts stay stable across runs.
func (r *Registry) Definitions(tier int) []entity.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]entity.ToolDefinition, 0, len(r.tools))
	for _, spec := range r.tools {
		if spec.Tier > tier {
			continue
		}
		defs = append(defs, entity.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names lists all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
