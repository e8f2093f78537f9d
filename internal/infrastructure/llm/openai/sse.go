package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
)

// parseSSE reads the chat-completions stream: "data: {chunk}" lines ending
// with "data: [DONE]". Tool calls arrive as indexed fragments whose
// arguments accumulate across chunks.
func parseSSE(ctx context.Context, reader io.Reader, fn service.StreamFunc, logger *zap.Logger) (*service.LLMResult, error) {
	const idleTimeout = 60 * time.Second
	scanner := bufio.NewScanner(&timedReader{r: reader, timeout: idleTimeout})
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	var model string
	var usage *Usage
	type acc struct {
		id   string
		name string
		args strings.Builder
	}
	tools := make(map[int]*acc)
	maxIdx := -1
	started := make(map[int]bool)

	emit := func(ev service.StreamEvent) {
		if fn != nil {
			fn(ev)
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("Skip unparseable stream chunk", zap.Error(err))
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			emit(service.StreamEvent{Type: service.StreamTextDelta, Text: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			a, ok := tools[idx]
			if !ok {
				a = &acc{}
				tools[idx] = a
			}
			if idx > maxIdx {
				maxIdx = idx
			}
			if tc.ID != "" {
				a.id = tc.ID
			}
			if tc.Function.Name != "" {
				a.name = tc.Function.Name
			}
			if !started[idx] && a.id != "" && a.name != "" {
				started[idx] = true
				emit(service.StreamEvent{Type: service.StreamToolUseStart, ToolID: a.id, ToolName: a.name})
			}
			if tc.Function.Arguments != "" {
				a.args.WriteString(tc.Function.Arguments)
				emit(service.StreamEvent{Type: service.StreamToolUseDelta, ToolID: a.id, PartialJSON: tc.Function.Arguments})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if err == errIdleTimeout {
			logger.Warn("Chat completions stream stalled", zap.Duration("idle_timeout", idleTimeout))
			if content.Len() == 0 && len(tools) == 0 {
				return nil, fmt.Errorf("stream stalled: no data for %v", idleTimeout)
			}
		} else {
			return nil, fmt.Errorf("stream scan: %w", err)
		}
	}

	result := &service.LLMResult{Content: content.String(), Model: model}
	if usage != nil {
		result.Usage = entity.TokenUsage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		}
	}
	for i := 0; i <= maxIdx; i++ {
		a, ok := tools[i]
		if !ok {
			continue
		}
		tc := ParseToolCall(ToolCall{
			ID:       a.id,
			Type:     "function",
			Function: FunctionCall{Name: a.name, Arguments: a.args.String()},
		})
		result.ToolCalls = append(result.ToolCalls, tc)
		emit(service.StreamEvent{Type: service.StreamToolUseEnd, ToolID: tc.ID, ToolName: tc.Name, ToolCall: &tc})
	}

	emit(service.StreamEvent{Type: service.StreamMessageEnd, Result: result})
	return result, nil
}

var errIdleTimeout = fmt.Errorf("sse read idle timeout")

// timedReader bounds how long a stalled stream can block a Read.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}
