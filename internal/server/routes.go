package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatgrid-ai/chatgrid/internal/prompts"
	"github.com/chatgrid-ai/chatgrid/internal/provider"
	"github.com/chatgrid-ai/chatgrid/internal/session"
	"github.com/chatgrid-ai/chatgrid/internal/settings"
)

func (s *server) registerRoutes(engine *gin.Engine) {
	api := engine.Group("/api")

	api.GET("/models", s.handleListModels)
	api.POST("/models/pull", s.handlePullModel)
	api.GET("/connection/status", s.handleConnectionStatus)

	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handleUpdateSettings)

	api.GET("/system-prompts", s.handleListPrompts)
	api.POST("/system-prompts", s.handleCreatePrompt)
	api.PUT("/system-prompts/:id", s.handleUpdatePrompt)
	api.DELETE("/system-prompts/:id", s.handleDeletePrompt)

	api.GET("/sessions", s.handleListSessions)
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.POST("/sessions/:id/messages", s.handleSubmit)
	api.POST("/sessions/:id/compact", s.handleCompact)
	api.PUT("/sessions/:id/model", s.handleSetModel)
	api.PUT("/sessions/:id/prompt", s.handleSetSystemPrompt)
}

// ── models & connectivity ────────────────────────────────────────────────────

func (s *server) handleListModels(c *gin.Context) {
	models := s.opts.Router.ListModels(c.Request.Context())

	// Refresh the budget monitor's limit table from the listing.
	if s.opts.Monitor != nil {
		limits := make(map[string]int, len(models))
		for _, m := range models {
			limits[m.Ref()] = m.ContextLength
		}
		s.opts.Monitor.SetModelContextLimits(limits)
	}

	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *server) handlePullModel(c *gin.Context) {
	if s.opts.Ollama == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no local provider configured"})
		return
	}
	var req struct {
		Model string `json:"model" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.opts.Ollama.Pull(c.Request.Context(), req.Model); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *server) handleConnectionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Router.CheckAll(c.Request.Context()))
}

// ── settings ─────────────────────────────────────────────────────────────────

func (s *server) handleGetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Settings.Get())
}

func (s *server) handleUpdateSettings(c *gin.Context) {
	var u settings.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	merged, err := s.opts.Settings.Apply(u)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, settings.ErrThresholdOutOfRange) || errors.Is(err, settings.ErrMaxSessionsOutOfRange) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	// Propagate the accepted settings into the running engine.
	if s.opts.Monitor != nil {
		s.opts.Monitor.SetWarningThreshold(merged.TokenWarningThreshold)
	}
	if err := s.opts.Orchestrator.Resize(merged.MaxSessions); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if u.OpenAIAPIKey != nil {
		if client, ok := s.opts.Router.Client("openai"); ok {
			if oc, ok := client.(*provider.OpenAIClient); ok {
				oc.SetAPIKey(merged.OpenAIAPIKey)
			}
		}
	}
	if u.AnthropicAPIKey != nil {
		if client, ok := s.opts.Router.Client("anthropic"); ok {
			if ac, ok := client.(*provider.AnthropicClient); ok {
				ac.SetAPIKey(merged.AnthropicAPIKey)
			}
		}
	}

	c.JSON(http.StatusOK, merged)
}

// ── system prompts ───────────────────────────────────────────────────────────

type promptRequest struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Category string `json:"category"`
}

func (s *server) handleListPrompts(c *gin.Context) {
	c.JSON(http.StatusOK, s.opts.Prompts.List())
}

func (s *server) handleCreatePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := s.opts.Prompts.Create(req.Name, req.Prompt, req.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *server) handleUpdatePrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := s.opts.Prompts.Update(c.Param("id"), req.Name, req.Prompt, req.Category)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, prompts.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *server) handleDeletePrompt(c *gin.Context) {
	if err := s.opts.Prompts.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ── sessions ─────────────────────────────────────────────────────────────────

type sessionSummary struct {
	ID           string         `json:"id"`
	Status       session.Status `json:"status"`
	Model        string         `json:"model,omitempty"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	MessageCount int            `json:"messageCount"`
	Report       any            `json:"report"`
}

func summarize(sess *session.Session) sessionSummary {
	return sessionSummary{
		ID:           sess.ID(),
		Status:       sess.Status(),
		Model:        sess.ModelRef(),
		SystemPrompt: sess.SystemPrompt(),
		MessageCount: len(sess.Messages()),
		Report:       sess.Report(),
	}
}

func (s *server) handleListSessions(c *gin.Context) {
	sessions := s.opts.Orchestrator.Sessions()
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarize(sess))
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":    out,
		"maxSessions": s.opts.Orchestrator.MaxSessions(),
	})
}

func (s *server) handleCreateSession(c *gin.Context) {
	id, err := s.opts.Orchestrator.CreateSession()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrPoolFull) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	sess, _ := s.opts.Orchestrator.Session(id)
	c.JSON(http.StatusOK, summarize(sess))
}

func (s *server) lookupSession(c *gin.Context) *session.Session {
	sess, err := s.opts.Orchestrator.Session(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil
	}
	return sess
}

func (s *server) handleGetSession(c *gin.Context) {
	sess := s.lookupSession(c)
	if sess == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           sess.ID(),
		"status":       sess.Status(),
		"model":        sess.ModelRef(),
		"systemPrompt": sess.SystemPrompt(),
		"messages":     sess.Messages(),
		"report":       sess.Report(),
	})
}

func (s *server) handleSubmit(c *gin.Context) {
	sess := s.lookupSession(c)
	if sess == nil {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.opts.Orchestrator.SetActive(sess.ID())

	msg, err := sess.Submit(c.Request.Context(), req.Content)
	if err != nil {
		c.JSON(validationStatus(err), gin.H{"error": err.Error()})
		return
	}

	// A system-role reply is an in-conversation failure note; the turn is
	// still a 200 because the history mutation the client must render is the
	// payload.
	c.JSON(http.StatusOK, gin.H{
		"message": msg,
		"report":  sess.Report(),
	})
}

func (s *server) handleCompact(c *gin.Context) {
	sess := s.lookupSession(c)
	if sess == nil {
		return
	}

	s.opts.Orchestrator.SetActive(sess.ID())

	msg, err := sess.Compact(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrBusy),
			errors.Is(err, session.ErrTooFewMessages),
			errors.Is(err, session.ErrNoModel),
			errors.Is(err, session.ErrClosed):
			c.JSON(validationStatus(err), gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": msg,
		"report":  sess.Report(),
	})
}

func (s *server) handleSetModel(c *gin.Context) {
	sess := s.lookupSession(c)
	if sess == nil {
		return
	}
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := sess.SetModel(req.Model); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": sess.Report()})
}

func (s *server) handleSetSystemPrompt(c *gin.Context) {
	sess := s.lookupSession(c)
	if sess == nil {
		return
	}
	var req struct {
		SystemPrompt string `json:"systemPrompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess.SetSystemPrompt(req.SystemPrompt)
	c.JSON(http.StatusOK, gin.H{"report": sess.Report()})
}

// validationStatus maps session validation errors onto HTTP statuses.
func validationStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}
