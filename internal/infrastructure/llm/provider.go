// Package llm hosts the provider clients and the gateway that orchestrates
// them: routing, caching, cost capping, cross-provider fallback, streaming.
package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
)

// Request is the provider-level request. Messages are the canonical form;
// each provider adapts them to its own wire shape. Model carries the bare
// model id, without the provider prefix.
type Request struct {
	Model       string
	Messages    []entity.Message
	Tools       []entity.ToolDefinition
	MaxTokens   int
	Temperature float64
	Thinking    service.ThinkingLevel
	Timeout     time.Duration
}

// Provider is one wire client. Call blocks; Stream delivers events in
// provider order through fn before returning the assembled result.
type Provider interface {
	Name() string
	Call(ctx context.Context, req *Request) (*service.LLMResult, error)
	Stream(ctx context.Context, req *Request, fn service.StreamFunc) (*service.LLMResult, error)
	IsAvailable(ctx context.Context) bool
}

// Config configures one provider instance.
type Config struct {
	Name    string // registry key and usage label, e.g. "xai"
	Type    string // factory: "anthropic" | "openai" | "gemini"
	BaseURL string
	APIKey  string
}

// Factory builds a Provider from config. Provider sub-packages register
// themselves in init().
type Factory func(cfg Config, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a provider factory under a type name.
func RegisterFactory(typeName string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// Create instantiates a provider for cfg.Type.
func Create(cfg Config, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}
	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", t)
	}
	return factory(cfg, logger), nil
}
