// Package server exposes the chat engine over HTTP. It owns no conversation
// state of its own: every handler translates a request into an engine call
// and renders the result.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatgrid-ai/chatgrid/internal/prompts"
	"github.com/chatgrid-ai/chatgrid/internal/provider"
	"github.com/chatgrid-ai/chatgrid/internal/session"
	"github.com/chatgrid-ai/chatgrid/internal/settings"
	"github.com/chatgrid-ai/chatgrid/internal/tokens"
)

// Options holds the collaborators the HTTP layer dispatches into.
type Options struct {
	Router       *provider.Router
	Orchestrator *session.Orchestrator
	Settings     *settings.Store
	Prompts      *prompts.Library
	Monitor      *tokens.Monitor

	// Ollama is the local backend, kept separately for the model-pull admin
	// endpoint. May be nil.
	Ollama *provider.OllamaClient

	Port int
	Out  io.Writer
}

type server struct {
	opts Options
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Options) error {
	if opts.Router == nil || opts.Orchestrator == nil || opts.Settings == nil {
		return fmt.Errorf("server: router, orchestrator, and settings are required")
	}
	if opts.Port <= 0 {
		opts.Port = 3000
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &server{opts: opts}
	s.registerRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: engine,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "chatgrid API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
