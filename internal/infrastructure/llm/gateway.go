package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
	"github.com/salmalm/salmalm/internal/infrastructure/cache"
	"github.com/salmalm/salmalm/internal/infrastructure/config"
	"github.com/salmalm/salmalm/internal/infrastructure/usage"
)

// KeySource resolves provider credentials. The vault implements it.
type KeySource interface {
	Get(key string) (string, error)
	HasKey(provider string) bool
}

// Metrics is the slice of the monitoring layer the gateway touches. A nil
// Metrics is a no-op.
type Metrics interface {
	LLMCall(provider, model string, cached bool)
	LLMError(provider string)
}

// responsesState memoizes which OpenAI models only serve /responses.
type responsesState int

const (
	responsesUnknown responsesState = iota
	responsesRequired                // go straight to /responses
	responsesBroken                  // neither endpoint works, fall back
)

// Gateway is the single entry point for model calls: routing, response
// cache, cost cap, key lookup, provider dispatch, responses-endpoint
// memoization, usage metering, and cross-provider fallback.
type Gateway struct {
	cfg     *config.Config
	router  *service.ModelRouter
	keys    KeySource
	cache   *cache.ResponseCache
	meter   *usage.Meter
	metrics Metrics
	logger  *zap.Logger

	mu        sync.Mutex
	providers map[string]providerEntry
	responses map[string]responsesState // full model id → state
}

type providerEntry struct {
	provider Provider
	apiKey   string
}

// NewGateway wires the gateway. metrics may be nil.
func NewGateway(cfg *config.Config, router *service.ModelRouter, keys KeySource,
	respCache *cache.ResponseCache, meter *usage.Meter, metrics Metrics, logger *zap.Logger) *Gateway {
	return &Gateway{
		cfg:       cfg,
		router:    router,
		keys:      keys,
		cache:     respCache,
		meter:     meter,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "llm-gateway")),
		providers: make(map[string]providerEntry),
		responses: make(map[string]responsesState),
	}
}

var _ service.LLMCaller = (*Gateway)(nil)

// Call runs one blocking gateway call.
func (g *Gateway) Call(ctx context.Context, req *service.LLMRequest) (*service.LLMResult, error) {
	return g.run(ctx, req, nil)
}

// Stream runs one streaming call, forwarding provider events to fn.
func (g *Gateway) Stream(ctx context.Context, req *service.LLMRequest, fn service.StreamFunc) (*service.LLMResult, error) {
	return g.run(ctx, req, fn)
}

func (g *Gateway) run(ctx context.Context, req *service.LLMRequest, fn service.StreamFunc) (*service.LLMResult, error) {
	// Compaction, rollback, and message editing can leave orphan tool
	// results or a dangling trailing tool_use; providers reject both.
	req.Messages = service.Normalize(req.Messages)
	modelID := req.Model
	intent := req.Intent
	if modelID == "" {
		routed, in, _ := g.router.Route(lastUserText(req.Messages), len(req.Tools) > 0)
		modelID = routed
		if intent == "" {
			intent = string(in)
		}
	}
	if modelID == "" {
		return softFailure(service.ResultErrAllFailed, "no model available", modelID), nil
	}
	providerName := service.ProviderOf(modelID)
	bareModel := service.ModelOf(modelID)

	cacheable := len(req.Tools) == 0 && !req.NoCache && g.cfg.LLM.CacheEnabled
	if cacheable {
		if text, ok := g.cache.Get(req.SessionID, modelID, req.Messages); ok {
			g.logger.Debug("Response cache hit", zap.String("model", modelID))
			if g.metrics != nil {
				g.metrics.LLMCall(providerName, bareModel, true)
			}
			result := &service.LLMResult{Content: text, Model: modelID, Cached: true}
			if fn != nil {
				fn(service.StreamEvent{Type: service.StreamTextDelta, Text: text})
				fn(service.StreamEvent{Type: service.StreamMessageEnd, Result: result})
			}
			return result, nil
		}
	}

	if err := g.meter.CheckCostCap(); err != nil {
		return softFailure(service.ResultErrCostCap, err.Error(), modelID), nil
	}

	if !g.keys.HasKey(providerName) {
		return softFailure(service.ResultErrKeyMissing,
			fmt.Sprintf("no API key for %s; add one with the vault before using %s", providerName, modelID),
			modelID), nil
	}

	result, llmErr := g.callProvider(ctx, providerName, bareModel, req, fn)
	if llmErr == nil {
		g.finish(result, providerName, bareModel, modelID, req, intent, cacheable && fn == nil)
		return result, nil
	}
	if llmErr.Kind == service.ErrKindCancelled {
		return nil, llmErr
	}
	if llmErr.Kind == service.ErrKindTokenOverflow {
		// No fallback: the caller compacts the session and retries.
		return softFailure(service.ResultErrTokenOverflow, "prompt exceeds the model context window", modelID), nil
	}

	g.logger.Warn("Primary provider failed, walking fallbacks",
		zap.String("model", modelID),
		zap.String("kind", llmErr.Kind.String()),
	)

	for _, fb := range g.cfg.LLM.FallbackOrder {
		if fb == providerName {
			continue
		}
		if !g.keys.HasKey(fb) {
			continue
		}
		fbModel := g.cfg.LLM.FallbackModels[fb]
		if fbModel == "" {
			continue
		}
		if err := g.meter.CheckCostCap(); err != nil {
			return softFailure(service.ResultErrCostCap, err.Error(), modelID), nil
		}

		result, fbErr := g.callProvider(ctx, fb, fbModel, req, fn)
		if fbErr == nil {
			g.logger.Info("Fallback succeeded",
				zap.String("from", modelID),
				zap.String("to", fb+"/"+fbModel),
			)
			g.finish(result, fb, fbModel, modelID, req, intent, cacheable && fn == nil)
			return result, nil
		}
		if fbErr.Kind == service.ErrKindCancelled {
			return nil, fbErr
		}
		if fbErr.Kind == service.ErrKindTokenOverflow {
			return softFailure(service.ResultErrTokenOverflow, "prompt exceeds the model context window", modelID), nil
		}
		llmErr = fbErr
	}

	if g.metrics != nil {
		g.metrics.LLMError(providerName)
	}
	msg := llmErr.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	g.logger.Error("All LLM calls failed", zap.String("model", modelID), zap.String("last_error", msg))
	return softFailure(service.ResultErrAllFailed, "All LLM calls failed: "+msg, modelID), nil
}

// callProvider dispatches one provider call, handling the /responses
// memoization for OpenAI models that reject chat/completions.
func (g *Gateway) callProvider(ctx context.Context, providerName, model string,
	req *service.LLMRequest, fn service.StreamFunc) (*service.LLMResult, *service.LLMError) {

	provider, err := g.providerFor(providerName)
	if err != nil {
		return nil, service.ClassifyError(err, providerName, model)
	}

	fullID := providerName + "/" + model
	preq := g.buildRequest(model, req)

	g.mu.Lock()
	state := g.responses[fullID]
	g.mu.Unlock()

	switch state {
	case responsesRequired:
		return g.callResponses(ctx, provider, providerName, fullID, preq)
	case responsesBroken:
		return nil, &service.LLMError{
			Kind: service.ErrKindUnavailable, Provider: providerName, Model: model,
			Message: "model known broken on both endpoints",
		}
	}

	var result *service.LLMResult
	if fn != nil {
		result, err = provider.Stream(ctx, preq, fn)
	} else {
		result, err = provider.Call(ctx, preq)
	}
	if err == nil {
		if result.Model == "" || !strings.Contains(result.Model, "/") {
			result.Model = fullID
		}
		return result, nil
	}

	classified := service.ClassifyError(err, providerName, model)
	if classified.Kind == service.ErrKindResponsesOnly {
		return g.callResponses(ctx, provider, providerName, fullID, preq)
	}
	return nil, classified
}

// responsesCaller is the optional /responses surface; the openai client has
// it, other providers do not.
type responsesCaller interface {
	CallResponses(ctx context.Context, req *Request) (*service.LLMResult, error)
}

func (g *Gateway) callResponses(ctx context.Context, provider Provider, providerName, fullID string,
	preq *Request) (*service.LLMResult, *service.LLMError) {

	rc, ok := provider.(responsesCaller)
	if !ok {
		g.memoizeResponses(fullID, responsesBroken)
		return nil, &service.LLMError{
			Kind: service.ErrKindBadRequest, Provider: providerName, Model: preq.Model,
			Message: "model requires the responses endpoint, which this provider lacks",
		}
	}
	result, err := rc.CallResponses(ctx, preq)
	if err != nil {
		g.memoizeResponses(fullID, responsesBroken)
		return nil, service.ClassifyError(err, providerName, preq.Model)
	}
	g.memoizeResponses(fullID, responsesRequired)
	if result.Model == "" || !strings.Contains(result.Model, "/") {
		result.Model = fullID
	}
	return result, nil
}

func (g *Gateway) memoizeResponses(fullID string, state responsesState) {
	g.mu.Lock()
	g.responses[fullID] = state
	g.mu.Unlock()
}

func (g *Gateway) buildRequest(model string, req *service.LLMRequest) *Request {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.LLM.MaxTokens
	}
	temp := req.Temperature
	if temp <= 0 {
		if len(req.Tools) > 0 {
			temp = g.cfg.TempTool
		} else {
			temp = g.cfg.TempChat
		}
	}
	return &Request{
		Model:       model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   maxTokens,
		Temperature: temp,
		Thinking:    req.Thinking,
		Timeout:     g.cfg.LLMTimeout,
	}
}

// finish records usage and populates the cache after a successful call. The
// cache key uses the model id the consult ran against, so a fallback answer
// still satisfies the next identical request.
func (g *Gateway) finish(result *service.LLMResult, providerName, model, cacheModelID string,
	req *service.LLMRequest, intent string, populateCache bool) {

	fullID := providerName + "/" + model
	g.meter.Record(req.SessionID, fullID, result.Usage, intent)
	if g.metrics != nil {
		g.metrics.LLMCall(providerName, model, false)
	}
	if populateCache && len(result.ToolCalls) == 0 && result.Content != "" {
		g.cache.Put(req.SessionID, cacheModelID, req.Messages, result.Content)
	}
}

// providerFor returns a cached client, rebuilding when the vault key changed.
func (g *Gateway) providerFor(name string) (Provider, error) {
	apiKey, _ := g.keys.Get(name + "_api_key")

	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.providers[name]; ok && entry.apiKey == apiKey {
		return entry.provider, nil
	}

	cfg := g.providerConfig(name, apiKey)
	provider, err := Create(cfg, g.logger)
	if err != nil {
		return nil, err
	}
	g.providers[name] = providerEntry{provider: provider, apiKey: apiKey}
	return provider, nil
}

// providerConfig maps a provider name to its factory type and base URL.
// Unknown names get the OpenAI-compatible client with a configured BaseURL,
// which covers DeepSeek, Mistral, Qwen, and Meta endpoints.
func (g *Gateway) providerConfig(name, apiKey string) Config {
	cfg := Config{Name: name, APIKey: apiKey}
	switch name {
	case "anthropic":
		cfg.Type = "anthropic"
	case "google", "gemini":
		cfg.Type = "gemini"
	case "ollama":
		cfg.Type = "ollama"
		cfg.BaseURL = g.cfg.LLM.OllamaURL
	case "xai":
		cfg.Type = "openai"
		cfg.BaseURL = "https://api.x.ai/v1"
	case "openrouter":
		cfg.Type = "openai"
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	default:
		cfg.Type = "openai"
	}
	return cfg
}

func softFailure(code, content, model string) *service.LLMResult {
	return &service.LLMResult{Content: content, Model: model, Error: code}
}

func lastUserText(messages []entity.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == entity.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
