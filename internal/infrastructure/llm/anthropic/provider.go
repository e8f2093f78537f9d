package anthropic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
	"github.com/salmalm/salmalm/internal/infrastructure/llm"
	"github.com/salmalm/salmalm/internal/infrastructure/security"
)

const (
	anthropicVersion = "2023-06-01"
	anthropicBeta    = "prompt-caching-2024-07-31"
	defaultMaxTokens = 8192
)

func init() {
	llm.RegisterFactory("anthropic", func(cfg llm.Config, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is the native Anthropic Messages API client.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// New builds the client with the shared transport profile: 30s dial, 300s
// response header wait (long generations), TLS 1.2 floor.
func New(cfg llm.Config, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}
	return &Provider{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", name), zap.String("type", "anthropic")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

func (p *Provider) IsAvailable(ctx context.Context) bool { return p.apiKey != "" }

// Call runs one blocking request, retrying transient failures.
func (p *Provider) Call(ctx context.Context, req *llm.Request) (*service.LLMResult, error) {
	return llm.WithRetry(ctx, p.logger, p.name, req.Model, func() (*service.LLMResult, error) {
		return p.doCall(ctx, req, false, nil)
	})
}

// Stream runs one streaming request. Events go through fn in provider order.
func (p *Provider) Stream(ctx context.Context, req *llm.Request, fn service.StreamFunc) (*service.LLMResult, error) {
	return llm.WithRetry(ctx, p.logger, p.name, req.Model, func() (*service.LLMResult, error) {
		return p.doCall(ctx, req, true, fn)
	})
}

func (p *Provider) doCall(ctx context.Context, req *llm.Request, stream bool, fn service.StreamFunc) (*service.LLMResult, error) {
	apiReq := p.buildRequest(req)
	apiReq.Stream = stream

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("anthropic-beta", anthropicBeta)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		kind := service.ClassifyHTTPStatus(resp.StatusCode, string(respBody))
		p.logger.Warn("Anthropic API error",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", kind.String()),
			zap.String("body", security.Scrub(string(respBody))),
		)
		return nil, service.NewLLMError(kind, p.name, req.Model, security.Scrub(string(respBody)), resp.StatusCode)
	}

	if stream {
		// Watchdog closes the body when the caller's context dies so the
		// scanner unblocks.
		streamDone := make(chan struct{})
		go func() {
			select {
			case <-callCtx.Done():
				resp.Body.Close()
			case <-streamDone:
			}
		}()
		result, err := parseSSE(callCtx, resp.Body, fn, p.logger)
		close(streamDone)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseResponse(respBody)
}

func (p *Provider) buildRequest(req *llm.Request) *Request {
	apiReq := &Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    AdaptSystem(req.Messages),
		Messages:  Adapt(req.Messages),
		Tools:     AdaptTools(req.Tools),
	}
	if apiReq.MaxTokens == 0 {
		apiReq.MaxTokens = defaultMaxTokens
	}

	if thinking, minTokens := ThinkingFor(req.Model, string(req.Thinking)); thinking != nil {
		apiReq.Thinking = thinking
		if apiReq.MaxTokens < minTokens {
			apiReq.MaxTokens = minTokens
		}
		// Temperature must be omitted when thinking is on.
	} else if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	return apiReq
}

func parseResponse(body []byte) (*service.LLMResult, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	result := &service.LLMResult{
		Model: apiResp.Model,
		Usage: entity.TokenUsage{
			InputTokens:      apiResp.Usage.InputTokens,
			OutputTokens:     apiResp.Usage.OutputTokens,
			CacheReadTokens:  apiResp.Usage.CacheReadInputTokens,
			CacheWriteTokens: apiResp.Usage.CacheCreationInputTokens,
		},
	}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "thinking":
			result.Thinking += block.Thinking
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, entity.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	return result, nil
}
