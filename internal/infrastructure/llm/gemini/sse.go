package gemini

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

// parseSSE reads the :streamGenerateContent?alt=sse stream. Each "data:"
// payload is a full Response; function calls arrive whole, never chunked.
func parseSSE(ctx context.Context, reader io.Reader, fn service.StreamFunc, logger *zap.Logger) (*service.LLMResult, error) {
	const idleTimeout = 60 * time.Second
	scanner := bufio.NewScanner(&timedReader{r: reader, timeout: idleTimeout})
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	var thinking strings.Builder
	var model string
	var usage *UsageMetadata
	var toolCalls []entity.ToolCall
	finished := false

	emit := func(ev service.StreamEvent) {
		if fn != nil {
			fn(ev)
		}
	}

	for scanner.Scan() && !finished {
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

		var resp Response
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			logger.Debug("Skip unparseable stream chunk", zap.Error(err))
			continue
		}
		if resp.ModelVersion != "" {
			model = resp.ModelVersion
		}
		if resp.UsageMetadata != nil {
			usage = resp.UsageMetadata
		}
		if len(resp.Candidates) == 0 {
			continue
		}

		candidate := resp.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part.Thought != nil && *part.Thought {
				thinking.WriteString(part.Text)
				emit(service.StreamEvent{Type: service.StreamThinkingDelta, Text: part.Text})
				continue
			}
			if part.Text != "" {
				content.WriteString(part.Text)
				emit(service.StreamEvent{Type: service.StreamTextDelta, Text: part.Text})
			}
			if part.FunctionCall != nil {
				tc := entity.ToolCall{
					ID:        SynthesizeCallID(part.FunctionCall.Name, len(toolCalls)),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				}
				toolCalls = append(toolCalls, tc)
				emit(service.StreamEvent{Type: service.StreamToolUseStart, ToolID: tc.ID, ToolName: tc.Name})
				emit(service.StreamEvent{Type: service.StreamToolUseEnd, ToolID: tc.ID, ToolName: tc.Name, ToolCall: &tc})
			}
		}
		if candidate.FinishReason != "" {
			finished = true
		}
	}

	if err := scanner.Err(); err != nil {
		if err == errIdleTimeout {
			logger.Warn("Gemini stream stalled", zap.Duration("idle_timeout", idleTimeout))
			if content.Len() == 0 && len(toolCalls) == 0 {
				return nil, fmt.Errorf("stream stalled: no data for %v", idleTimeout)
			}
		} else {
			return nil, fmt.Errorf("stream scan: %w", err)
		}
	}

	result := &service.LLMResult{
		Content:   content.String(),
		Thinking:  thinking.String(),
		Model:     model,
		ToolCalls: toolCalls,
	}
	if usage != nil {
		result.Usage = entity.TokenUsage{
			InputTokens:  usage.PromptTokenCount,
			OutputTokens: usage.CandidatesTokenCount,
		}
	}
	emit(service.StreamEvent{Type: service.StreamMessageEnd, Result: result})
	return result, nil
}

var errIdleTimeout = fmt.Errorf("sse read idle timeout")

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
