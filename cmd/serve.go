package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatgrid-ai/chatgrid/internal/config"
	"github.com/chatgrid-ai/chatgrid/internal/prompts"
	"github.com/chatgrid-ai/chatgrid/internal/provider"
	"github.com/chatgrid-ai/chatgrid/internal/server"
	"github.com/chatgrid-ai/chatgrid/internal/session"
	"github.com/chatgrid-ai/chatgrid/internal/settings"
	"github.com/chatgrid-ai/chatgrid/internal/tokens"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chatgrid HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "listen port (overrides config)")
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Port = portFlag
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store, err := settings.NewStore(filepath.Join(cfg.DataDir, "settings.json"))
	if err != nil {
		return err
	}
	library, err := prompts.NewLibrary(filepath.Join(cfg.DataDir, "system-prompts.json"))
	if err != nil {
		return err
	}
	archive, err := session.NewSQLiteArchive(filepath.Join(cfg.DataDir, "archive.db"))
	if err != nil {
		return err
	}
	defer archive.Close()

	current := store.Get()
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second

	// Credentials: config file / environment wins over the settings file,
	// which holds keys saved through the API.
	openaiKey := cfg.GetProviderConfig("openai").APIKey
	if openaiKey == "" {
		openaiKey = current.OpenAIAPIKey
	}
	anthropicKey := cfg.GetProviderConfig("anthropic").APIKey
	if anthropicKey == "" {
		anthropicKey = current.AnthropicAPIKey
	}

	ollama := provider.NewOllamaClient(cfg.GetProviderConfig("ollama").BaseURL, timeout)

	router := provider.NewRouter()
	router.Register(ollama)
	router.Register(provider.NewOpenAIClient(openaiKey, timeout))
	router.Register(provider.NewAnthropicClient(anthropicKey, timeout))

	monitor := tokens.NewMonitor()
	monitor.SetWarningThreshold(current.TokenWarningThreshold)

	orch, err := session.NewOrchestrator(router, monitor, archive, current.MaxSessions)
	if err != nil {
		return err
	}
	orch.Fill()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("chatgrid %s starting (data dir %s)", appVersion, cfg.DataDir)
	return server.Start(ctx, server.Options{
		Router:       router,
		Orchestrator: orch,
		Settings:     store,
		Prompts:      library,
		Monitor:      monitor,
		Ollama:       ollama,
		Port:         cfg.Port,
		Out:          os.Stdout,
	})
}
