package anthropic

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

// toolAccumulator collects a tool_use block streamed as partial JSON.
type toolAccumulator struct {
	ID   string
	Name string
	Args strings.Builder
}

// parseSSE reads the event-based Anthropic stream and forwards normalized
// events through fn. Event sequence:
//
//	message_start → (content_block_start → content_block_delta* →
//	content_block_stop)* → message_delta → message_stop
func parseSSE(ctx context.Context, reader io.Reader, fn service.StreamFunc, logger *zap.Logger) (*service.LLMResult, error) {
	const idleTimeout = 60 * time.Second
	scanner := bufio.NewScanner(&timedReader{r: reader, timeout: idleTimeout})
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content, thinking strings.Builder
	var model string
	var usage Usage
	tools := make(map[int]*toolAccumulator)
	var order []int
	var eventType string

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

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var evt StreamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			logger.Debug("Skip unparseable SSE event", zap.String("event", eventType), zap.Error(err))
			continue
		}

		switch eventType {
		case "message_start":
			if evt.Message != nil {
				model = evt.Message.Model
				usage = evt.Message.Usage
			}

		case "content_block_start":
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				tools[evt.Index] = &toolAccumulator{ID: evt.ContentBlock.ID, Name: evt.ContentBlock.Name}
				order = append(order, evt.Index)
				emit(service.StreamEvent{
					Type:     service.StreamToolUseStart,
					ToolID:   evt.ContentBlock.ID,
					ToolName: evt.ContentBlock.Name,
				})
			}

		case "content_block_delta":
			if evt.Delta == nil {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				if evt.Delta.Text != "" {
					content.WriteString(evt.Delta.Text)
					emit(service.StreamEvent{Type: service.StreamTextDelta, Text: evt.Delta.Text})
				}
			case "thinking_delta":
				if evt.Delta.Thinking != "" {
					thinking.WriteString(evt.Delta.Thinking)
					emit(service.StreamEvent{Type: service.StreamThinkingDelta, Text: evt.Delta.Thinking})
				}
			case "input_json_delta":
				if acc, ok := tools[evt.Index]; ok {
					acc.Args.WriteString(evt.Delta.PartialJSON)
					emit(service.StreamEvent{
						Type:        service.StreamToolUseDelta,
						ToolID:      acc.ID,
						PartialJSON: evt.Delta.PartialJSON,
					})
				}
			}

		case "content_block_stop":
			if acc, ok := tools[evt.Index]; ok {
				tc := finishToolCall(acc, logger)
				emit(service.StreamEvent{
					Type:     service.StreamToolUseEnd,
					ToolID:   tc.ID,
					ToolName: tc.Name,
					ToolCall: &tc,
				})
			}

		case "message_delta":
			if evt.Usage != nil {
				if evt.Usage.OutputTokens > 0 {
					usage.OutputTokens = evt.Usage.OutputTokens
				}
				if evt.Usage.InputTokens > 0 {
					usage.InputTokens = evt.Usage.InputTokens
				}
			}

		case "message_stop", "ping":
			// complete / heartbeat
		}
		eventType = ""
	}

	if err := scanner.Err(); err != nil {
		if err == errIdleTimeout {
			logger.Warn("Anthropic SSE stream stalled", zap.Duration("idle_timeout", idleTimeout))
			if content.Len() == 0 && len(tools) == 0 {
				return nil, fmt.Errorf("stream stalled: no data for %v", idleTimeout)
			}
		} else {
			return nil, fmt.Errorf("stream scan: %w", err)
		}
	}

	result := &service.LLMResult{
		Content:  content.String(),
		Thinking: thinking.String(),
		Model:    model,
		Usage: entity.TokenUsage{
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			CacheReadTokens:  usage.CacheReadInputTokens,
			CacheWriteTokens: usage.CacheCreationInputTokens,
		},
	}
	for _, idx := range order {
		result.ToolCalls = append(result.ToolCalls, finishToolCall(tools[idx], logger))
	}

	emit(service.StreamEvent{Type: service.StreamMessageEnd, Result: result})
	return result, nil
}

// finishToolCall parses the accumulated argument JSON. Malformed JSON is
// wrapped as {"raw": <text>} so the executor can surface a tool error.
func finishToolCall(acc *toolAccumulator, logger *zap.Logger) entity.ToolCall {
	args := map[string]interface{}{}
	if raw := acc.Args.String(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			logger.Warn("Malformed tool call arguments", zap.String("tool", acc.Name), zap.Error(err))
			args = map[string]interface{}{"raw": raw}
		}
	}
	return entity.ToolCall{ID: acc.ID, Name: acc.Name, Arguments: args}
}

var errIdleTimeout = fmt.Errorf("sse read idle timeout")

// timedReader fails a Read that produces no bytes within timeout, bounding
// how long a stalled provider can hold the stream open.
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
