package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleCronList(c *gin.Context) {
	jobs, err := s.app.Cron.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleCronAdd(c *gin.Context) {
	var body struct {
		Schedule string `json:"schedule" binding:"required"`
		Message  string `json:"message" binding:"required"`
		Session  string `json:"session"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schedule and message are required"})
		return
	}
	job, err := s.app.Cron.Add(body.Schedule, body.Message, body.Session)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleCronDelete(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if err := s.app.Cron.Delete(body.ID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": body.ID})
}

func (s *Server) handleCronToggle(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	job, err := s.app.Cron.Toggle(body.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *Server) handleCronRun(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if err := s.app.Cron.RunNow(body.ID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": body.ID})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Status())
}

func (s *Server) handleUptime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"uptime_seconds": int64(s.app.Monitor.Uptime().Seconds())})
}

func (s *Server) handleUsageDaily(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"daily": s.app.Usage.Daily(), "by_model": s.app.Usage.ByModel()})
}

func (s *Server) handleUsageMonthly(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"monthly": s.app.Usage.Monthly()})
}

func (s *Server) handleDoctor(c *gin.Context) {
	checks := s.app.Doctor(c.Request.Context())
	ok := true
	for _, check := range checks {
		if !check.OK {
			ok = false
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok, "checks": checks})
}
