package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/pkg/safego"
)

type chatBody struct {
	Message     string `json:"message" binding:"required"`
	Session     string `json:"session"`
	ImageBase64 string `json:"image_base64"`
	ImageMime   string `json:"image_mime"`
	Lang        string `json:"lang"`
}

func (b *chatBody) sessionID() string {
	if b.Session == "" {
		return "web"
	}
	return b.Session
}

func (s *Server) handleChat(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	// Lane-prefixed ids (agent:, tg:, cron:) are internal only.
	if !entity.ValidSessionID(body.sessionID()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	text, err := s.resolveAttachment(&body)
	if err != nil {
		fail(c, err)
		return
	}
	result, err := s.app.Chat(c.Request.Context(), body.sessionID(), text)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"response":   result.Response,
		"model":      result.Model,
		"complexity": result.Complexity,
	})
}

func (s *Server) handleChatStream(c *gin.Context) {
	var body chatBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if !entity.ValidSessionID(body.sessionID()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	text, err := s.resolveAttachment(&body)
	if err != nil {
		fail(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()
	s.app.Monitor.SessionOpened()
	defer s.app.Monitor.SessionClosed()

	// The agent loop emits from the queue worker goroutine; pump events
	// through a channel so only this handler writes the response.
	events := make(chan entity.AgentEvent, 64)
	done := make(chan struct{})
	safego.Go(s.logger, "sse-turn", func() {
		defer close(done)
		_, err := s.app.ChatStream(c.Request.Context(), body.sessionID(), text, func(ev entity.AgentEvent) {
			select {
			case events <- ev:
			default: // never stall the turn on a slow client
			}
		})
		if err != nil {
			select {
			case events <- entity.AgentEvent{Type: entity.EventError, Error: err.Error()}:
			default:
			}
		}
	})

	for {
		select {
		case ev := <-events:
			writeSSE(c, string(ev.Type), ev)
		case <-done:
			for {
				select {
				case ev := <-events:
					writeSSE(c, string(ev.Type), ev)
					continue
				default:
				}
				break
			}
			writeSSE(c, "close", gin.H{})
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) handleChatAbort(c *gin.Context) {
	var body struct {
		Session string `json:"session" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session is required"})
		return
	}
	s.app.AbortTurn(body.Session)
	c.JSON(http.StatusOK, gin.H{"aborted": body.Session})
}

func (s *Server) handleRegenerate(c *gin.Context) {
	var body struct {
		SessionID    string `json:"session_id" binding:"required"`
		MessageIndex int    `json:"message_index"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	result, err := s.app.Regenerate(c.Request.Context(), body.SessionID, body.MessageIndex)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"response":   result.Response,
		"model":      result.Model,
		"complexity": result.Complexity,
	})
}

// resolveAttachment stores an uploaded image under uploads/ and appends its
// path to the message so file tools can reach it.
func (s *Server) resolveAttachment(body *chatBody) (string, error) {
	if body.ImageBase64 == "" {
		return body.Message, nil
	}
	data, err := base64.StdEncoding.DecodeString(body.ImageBase64)
	if err != nil {
		return "", fmt.Errorf("image_base64 is not valid base64: %w", err)
	}
	ext := ".bin"
	switch body.ImageMime {
	case "image/png":
		ext = ".png"
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	case "image/gif":
		ext = ".gif"
	}
	path := filepath.Join(s.app.Config.Home, "uploads", uuid.NewString()[:8]+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	s.logger.Debug("stored upload", zap.String("path", path), zap.Int("bytes", len(data)))
	return strings.TrimSpace(body.Message) + "\n[attached image: " + path + "]", nil
}

func writeSSE(c *gin.Context, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}
