package openai

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

func init() {
	llm.RegisterFactory("openai", func(cfg llm.Config, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is the chat-completions client used for every OpenAI-compatible
// backend; BaseURL selects OpenAI, xAI, OpenRouter, or a local Ollama.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// New builds the client.
func New(cfg llm.Config, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
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
		name = "openai"
	}
	return &Provider{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", name), zap.String("type", "openai")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

// IsAvailable: hosted backends need a key; a local base URL answers a probe.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if p.apiKey != "" {
		return true
	}
	if !strings.Contains(p.baseURL, "localhost") && !strings.Contains(p.baseURL, "127.0.0.1") {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// Call runs one blocking chat-completions request with retries.
func (p *Provider) Call(ctx context.Context, req *llm.Request) (*service.LLMResult, error) {
	return llm.WithRetry(ctx, p.logger, p.name, req.Model, func() (*service.LLMResult, error) {
		return p.doCall(ctx, req, false, nil)
	})
}

// Stream runs one streaming request.
func (p *Provider) Stream(ctx context.Context, req *llm.Request, fn service.StreamFunc) (*service.LLMResult, error) {
	return llm.WithRetry(ctx, p.logger, p.name, req.Model, func() (*service.LLMResult, error) {
		return p.doCall(ctx, req, true, fn)
	})
}

func (p *Provider) doCall(ctx context.Context, req *llm.Request, stream bool, fn service.StreamFunc) (*service.LLMResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	apiReq := &Request{
		Model:     req.Model,
		Messages:  Adapt(req.Messages),
		Tools:     AdaptTools(req.Tools),
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		apiReq.Temperature = &t
	}
	if stream {
		apiReq.StreamOptions = &StreamOptions{IncludeUsage: true}
	}

	resp, err := p.post(ctx, "/chat/completions", apiReq, stream)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		kind := service.ClassifyHTTPStatus(resp.StatusCode, string(respBody))
		p.logger.Warn("Chat completions error",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", kind.String()),
			zap.String("body", security.Scrub(string(respBody))),
		)
		return nil, service.NewLLMError(kind, p.name, req.Model, security.Scrub(string(respBody)), resp.StatusCode)
	}

	if stream {
		streamDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				resp.Body.Close()
			case <-streamDone:
			}
		}()
		result, err := parseSSE(ctx, resp.Body, fn, p.logger)
		close(streamDone)
		return result, err
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseResponse(respBody, p.name, req.Model)
}

// CallResponses targets the /responses endpoint for models that reject
// chat/completions. Non-streaming; the gateway memoizes which models need it.
func (p *Provider) CallResponses(ctx context.Context, req *llm.Request) (*service.LLMResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	apiReq := &ResponsesRequest{
		Model:           req.Model,
		Input:           AdaptResponsesInput(req.Messages),
		MaxOutputTokens: req.MaxTokens,
	}
	resp, err := p.post(ctx, "/responses", apiReq, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		kind := service.ClassifyHTTPStatus(resp.StatusCode, string(respBody))
		return nil, service.NewLLMError(kind, p.name, req.Model, security.Scrub(string(respBody)), resp.StatusCode)
	}

	var reply ResponsesReply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, fmt.Errorf("parse responses reply: %w", err)
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("responses error: %s", reply.Error.Message)
	}

	result := &service.LLMResult{
		Model: reply.Model,
		Usage: entity.TokenUsage{
			InputTokens:  reply.Usage.InputTokens,
			OutputTokens: reply.Usage.OutputTokens,
		},
	}
	for _, item := range reply.Output {
		if item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" {
				result.Content += c.Text
			}
		}
	}
	return result, nil
}

func (p *Provider) post(ctx context.Context, path string, payload interface{}, stream bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	return resp, nil
}

func parseResponse(body []byte, provider, model string) (*service.LLMResult, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse chat completions response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%s error: %s", provider, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices for %s", provider, model)
	}

	msg := apiResp.Choices[0].Message
	result := &service.LLMResult{
		Content: msg.Content,
		Model:   apiResp.Model,
		Usage: entity.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ParseToolCall(tc))
	}
	return result, nil
}
