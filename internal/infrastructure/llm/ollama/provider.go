// Package ollama adapts a local Ollama daemon through its OpenAI-compatible
// endpoint. It is keyless; availability means the daemon answers a probe.
package ollama

import (
	"strings"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/infrastructure/llm"
	"github.com/salmalm/salmalm/internal/infrastructure/llm/openai"
)

const defaultBaseURL = "http://localhost:11434/v1"

func init() {
	llm.RegisterFactory("ollama", func(cfg llm.Config, logger *zap.Logger) llm.Provider {
		baseURL := strings.TrimRight(cfg.BaseURL, "/")
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		// Ollama's OpenAI shim expects /v1 paths.
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		name := cfg.Name
		if name == "" {
			name = "ollama"
		}
		return openai.New(llm.Config{
			Name:    name,
			Type:    "openai",
			BaseURL: baseURL,
			APIKey:  cfg.APIKey,
		}, logger)
	})
}
