package gemini

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
	llm.RegisterFactory("gemini", func(cfg llm.Config, logger *zap.Logger) llm.Provider {
		return New(cfg, logger)
	})
}

// Provider is the native Gemini generateContent client.
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
		baseURL = "https://generativelanguage.googleapis.com"
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
		name = "google"
	}
	return &Provider{
		name:    name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", name), zap.String("type", "gemini")),
	}
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Name() string { return p.name }

func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.apiKey != ""
}

// Call runs one blocking generateContent request with retries.
func (p *Provider) Call(ctx context.Context, req *llm.Request) (*service.LLMResult, error) {
	return llm.WithRetry(ctx, p.logger, p.name, req.Model, func() (*service.LLMResult, error) {
		return p.doCall(ctx, req, false, nil)
	})
}

// Stream runs one streaming request against :streamGenerateContent.
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
		Contents: Adapt(req.Messages),
		Tools:    AdaptTools(req.Tools),
		GenerationConfig: &GenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	verb := "generateContent"
	query := "?key=" + p.apiKey
	if stream {
		verb = "streamGenerateContent"
		query = "?alt=sse&key=" + p.apiKey
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:%s%s", p.baseURL, req.Model, verb, query)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		kind := service.ClassifyHTTPStatus(resp.StatusCode, string(respBody))
		p.logger.Warn("Gemini API error",
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
	return parseResponse(respBody)
}

func parseResponse(body []byte) (*service.LLMResult, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("gemini error %d: %s", apiResp.Error.Code, apiResp.Error.Message)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	result := &service.LLMResult{Model: apiResp.ModelVersion}
	if u := apiResp.UsageMetadata; u != nil {
		result.Usage = entity.TokenUsage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount,
		}
	}
	for _, part := range apiResp.Candidates[0].Content.Parts {
		if part.Thought != nil && *part.Thought {
			result.Thinking += part.Text
			continue
		}
		if part.Text != "" {
			result.Content += part.Text
		}
		if part.FunctionCall != nil {
			result.ToolCalls = append(result.ToolCalls, entity.ToolCall{
				ID:        SynthesizeCallID(part.FunctionCall.Name, len(result.ToolCalls)),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	return result, nil
}
