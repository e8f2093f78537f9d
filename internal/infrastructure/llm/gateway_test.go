package llm

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
	"github.com/salmalm/salmalm/internal/infrastructure/cache"
	"github.com/salmalm/salmalm/internal/infrastructure/config"
	"github.com/salmalm/salmalm/internal/infrastructure/usage"
)

type stubKeys struct {
	keys map[string]string
}

func (s *stubKeys) Get(key string) (string, error) { return s.keys[key], nil }
func (s *stubKeys) HasKey(provider string) bool {
	if provider == "ollama" {
		return true
	}
	return s.keys[provider+"_api_key"] != ""
}

type stubProvider struct {
	name   string
	calls  int
	result *service.LLMResult
	err    error
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Call(ctx context.Context, req *Request) (*service.LLMResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}
func (s *stubProvider) Stream(ctx context.Context, req *Request, fn service.StreamFunc) (*service.LLMResult, error) {
	return s.Call(ctx, req)
}
func (s *stubProvider) IsAvailable(ctx context.Context) bool { return true }

func testConfig() *config.Config {
	return &config.Config{
		TempChat:   0.7,
		TempTool:   0.2,
		LLMTimeout: time.Second,
		LLM: config.LLMConfig{
			CacheEnabled:  true,
			MaxTokens:     1024,
			FallbackOrder: []string{"anthropic", "xai", "google"},
			FallbackModels: map[string]string{
				"anthropic": "claude-sonnet-4-20250514",
				"xai":       "grok-3",
				"google":    "gemini-2.5-pro",
			},
		},
	}
}

func testGateway(t *testing.T, keys *stubKeys, capUSD float64) *Gateway {
	t.Helper()
	logger := zap.NewNop()
	meter := usage.NewMeter(capUSD, nil, logger)
	router := service.NewModelRouter(keys, logger)
	return NewGateway(testConfig(), router, keys, cache.New(), meter, nil, logger)
}

func (g *Gateway) install(name string, p Provider) {
	apiKey, _ := g.keys.Get(name + "_api_key")
	g.mu.Lock()
	g.providers[name] = providerEntry{provider: p, apiKey: apiKey}
	g.mu.Unlock()
}

func userReq(model, text string) *service.LLMRequest {
	return &service.LLMRequest{
		SessionID: "s1",
		Model:     model,
		Messages:  []entity.Message{entity.NewUserMessage(text)},
	}
}

func TestGatewayCacheHitZeroUsage(t *testing.T) {
	keys := &stubKeys{keys: map[string]string{"openai_api_key": "k"}}
	g := testGateway(t, keys, 0)
	stub := &stubProvider{name: "openai", result: &service.LLMResult{
		Content: "four",
		Usage:   entity.TokenUsage{InputTokens: 10, OutputTokens: 2},
	}}
	g.install("openai", stub)

	req := userReq("openai/gpt-4o", "what is 2+2")
	first, err := g.Call(context.Background(), req)
	if err != nil || first.Failed() {
		t.Fatalf("first call: %v / %+v", err, first)
	}
	if stub.calls != 1 {
		t.Fatalf("provider calls = %d", stub.calls)
	}

	second, err := g.Call(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || second.Content != "four" {
		t.Errorf("second call should hit cache: %+v", second)
	}
	if second.Usage.InputTokens != 0 || second.Usage.OutputTokens != 0 {
		t.Errorf("cached result must report zero usage: %+v", second.Usage)
	}
	if stub.calls != 1 {
		t.Errorf("cache hit must not reach the provider, calls = %d", stub.calls)
	}
}

func TestGatewayFallbackOnProviderFailure(t *testing.T) {
	keys := &stubKeys{keys: map[string]string{"openai_api_key": "k", "anthropic_api_key": "k"}}
	g := testGateway(t, keys, 0)
	broken := &stubProvider{name: "openai", err: &service.LLMError{
		Kind: service.ErrKindUnavailable, StatusCode: 500, Provider: "openai", Message: "upstream down",
	}}
	healthy := &stubProvider{name: "anthropic", result: &service.LLMResult{Content: "ok"}}
	g.install("openai", broken)
	g.install("anthropic", healthy)

	result, err := g.Call(context.Background(), userReq("openai/gpt-4o", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed() {
		t.Fatalf("fallback should succeed: %+v", result)
	}
	if result.Model != "anthropic/claude-sonnet-4-20250514" {
		t.Errorf("answered by %s", result.Model)
	}
	if healthy.calls != 1 || broken.calls != 1 {
		t.Errorf("calls: broken=%d healthy=%d", broken.calls, healthy.calls)
	}
}

func TestGatewayAllFailedTruncatesError(t *testing.T) {
	keys := &stubKeys{keys: map[string]string{"openai_api_key": "k"}}
	g := testGateway(t, keys, 0)
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	g.install("openai", &stubProvider{name: "openai", err: &service.LLMError{
		Kind: service.ErrKindUnavailable, Provider: "openai", Message: string(long),
	}})

	result, err := g.Call(context.Background(), userReq("openai/gpt-4o", "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != service.ResultErrAllFailed {
		t.Fatalf("result = %+v", result)
	}
	if len(result.Content) > len("All LLM calls failed: ")+200 {
		t.Errorf("last error not truncated: %d chars", len(result.Content))
	}
}

func TestGatewayTokenOverflowNoFallback(t *testing.T) {
	keys := &stubKeys{keys: map[string]string{"openai_api_key": "k", "anthropic_api_key": "k"}}
	g := testGateway(t, keys, 0)
	overflowing := &stubProvider{name: "openai", err: &service.LLMError{
		Kind: service.ErrKindTokenOverflow, Provider: "openai", Message: "prompt is too long",
	}}
	fallback := &stubProvider{name: "anthropic", result: &service.LLMResult{Content: "nope"}}
	g.install("openai", overflowing)
	g.install("anthropic", fallback)

	result, err := g.Call(context.Background(), userReq("openai/gpt-4o", "huge prompt"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != service.ResultErrTokenOverflow {
		t.Fatalf("result = %+v", result)
	}
	if fallback.calls != 0 {
		t.Error("token overflow must not walk fallbacks")
	}
}

func TestGatewayCostCapBoundary(t *testing.T) {
	keys := &stubKeys{keys: map[string]string{"openai_api_key": "k"}}
	// gpt-4o: $2.50/M input, $10/M output. 1000 in + 750 out = $0.01 exactly.
	g := testGateway(t, keys, 0.01)
	stub := &stubProvider{name: "openai", result: &service.LLMResult{
		Content: "ok",
		Usage:   entity.TokenUsage{InputTokens: 1000, OutputTokens: 750},
	}}
	g.install("openai", stub)

	req := userReq("openai/gpt-4o", "hello")
	req.NoCache = true
	first, err := g.Call(context.Background(), req)
	if err != nil || first.Failed() {
		t.Fatalf("call landing at the cap must succeed: %v / %+v", err, first)
	}

	second, err := g.Call(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Error != service.ResultErrCostCap {
		t.Errorf("call past the cap must refuse: %+v", second)
	}
	if stub.calls != 1 {
		t.Errorf("refused call must not reach the provider, calls = %d", stub.calls)
	}
}

func TestGatewayKeyMissing(t *testing.T) {
	keys := &stubKeys{keys: map[string]string{}}
	g := testGateway(t, keys, 0)

	result, err := g.Call(context.Background(), userReq("anthropic/claude-opus-4-1", "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if result.Error != service.ResultErrKeyMissing {
		t.Errorf("result = %+v", result)
	}
}

func TestGatewayStreamReplaysCacheHit(t *testing.T) {
	keys := &stubKeys{keys: map[string]string{"openai_api_key": "k"}}
	g := testGateway(t, keys, 0)
	stub := &stubProvider{name: "openai", result: &service.LLMResult{Content: "answer"}}
	g.install("openai", stub)

	req := userReq("openai/gpt-4o", "q")
	if _, err := g.Call(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	var deltas []string
	result, err := g.Stream(context.Background(), req, func(ev service.StreamEvent) {
		if ev.Type == service.StreamTextDelta {
			deltas = append(deltas, ev.Text)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Cached || len(deltas) != 1 || deltas[0] != "answer" {
		t.Errorf("cached stream replay: result=%+v deltas=%v", result, deltas)
	}
}
