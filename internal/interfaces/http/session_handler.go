package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/salmalm/salmalm/internal/domain/entity"
	"github.com/salmalm/salmalm/internal/domain/service"
)

// The HTTP surface is single-user; ownership checks use the zero user id.
const webUserID int64 = 0

func (s *Server) handleSessionList(c *gin.Context) {
	infos, err := s.app.Sessions.List(c.Request.Context(), webUserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}

func (s *Server) handleSessionCreate(c *gin.Context) {
	var body struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	c.ShouldBindJSON(&body)
	if body.ID == "" {
		body.ID = "web-" + uuid.NewString()[:8]
	}
	if !entity.ValidSessionID(body.ID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	sess, err := s.app.Sessions.Load(c.Request.Context(), body.ID)
	if err != nil {
		fail(c, err)
		return
	}
	if body.Title != "" {
		sess.Title = body.Title
	}
	if err := s.app.Sessions.Persist(c.Request.Context(), sess); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.Info()})
}

func (s *Server) handleSessionDelete(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if err := s.app.Sessions.Delete(c.Request.Context(), body.ID, webUserID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": body.ID})
}

func (s *Server) handleSessionRename(c *gin.Context) {
	var body struct {
		ID    string `json:"id" binding:"required"`
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and title are required"})
		return
	}
	if err := s.app.Sessions.Rename(c.Request.Context(), body.ID, webUserID, body.Title); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"renamed": body.ID})
}

func (s *Server) handleSessionClear(c *gin.Context) {
	var body struct {
		Keep string `json:"keep"`
	}
	c.ShouldBindJSON(&body)
	n, err := s.app.Sessions.Clear(c.Request.Context(), body.Keep, webUserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *Server) handleSessionRollback(c *gin.Context) {
	var body struct {
		ID    string `json:"id" binding:"required"`
		Count int    `json:"count"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if body.Count <= 0 {
		body.Count = 1
	}
	removed, err := s.app.Sessions.Rollback(c.Request.Context(), body.ID, webUserID, body.Count)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed_pairs": removed})
}

func (s *Server) handleSessionBranch(c *gin.Context) {
	var body struct {
		ID    string `json:"id" binding:"required"`
		Index int    `json:"index"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	branchID, err := s.app.Sessions.Branch(c.Request.Context(), body.ID, webUserID, body.Index)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branch": branchID})
}

func (s *Server) handleSessionMessages(c *gin.Context) {
	sess, err := s.app.Sessions.LoadOwned(c.Request.Context(), c.Param("id"), webUserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sess.ID, "messages": sess.Messages})
}

func (s *Server) handleSessionLast(c *gin.Context) {
	sess, err := s.app.Sessions.LoadOwned(c.Request.Context(), c.Param("id"), webUserID)
	if err != nil {
		fail(c, err)
		return
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == entity.RoleAssistant {
			c.JSON(http.StatusOK, gin.H{"last": sess.Messages[i].Text(), "model": sess.Messages[i].Model})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"last": ""})
}

func (s *Server) handleSessionSummary(c *gin.Context) {
	sess, err := s.app.Sessions.LoadOwned(c.Request.Context(), c.Param("id"), webUserID)
	if err != nil {
		fail(c, err)
		return
	}
	summary := ""
	for _, m := range sess.Messages {
		if m.Role == entity.RoleSystem && strings.Contains(m.Text(), service.SummaryHeader) {
			summary = m.Text()
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"id":            sess.ID,
		"title":         sess.Title,
		"message_count": len(sess.Messages),
		"last_active":   sess.LastActive,
		"summary":       summary,
	})
}

func (s *Server) handleSessionAlternatives(c *gin.Context) {
	alts, err := s.app.Alternatives.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alternatives": alts})
}

func (s *Server) handleBookmarkAdd(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id" binding:"required"`
		Index     int    `json:"index"`
		Note      string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	if err := s.app.Bookmarks.Add(c.Request.Context(), body.SessionID, body.Index, body.Note); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarked": body.SessionID})
}

func (s *Server) handleBookmarkList(c *gin.Context) {
	marks, err := s.app.Bookmarks.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarks": marks})
}

func (s *Server) handleGroupAssign(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id" binding:"required"`
		Group     string `json:"group" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and group are required"})
		return
	}
	if err := s.app.Groups.Assign(c.Request.Context(), body.SessionID, body.Group); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": body.Group})
}

func (s *Server) handleGroupList(c *gin.Context) {
	groups, err := s.app.Groups.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}
