// Package main is the entry point for the Quantum Commander chat gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"qcommander/config"
	"qcommander/internal/bots"
	"qcommander/internal/cancel"
	"qcommander/internal/configstore"
	"qcommander/internal/logging"
	"qcommander/internal/observability"
	"qcommander/internal/orchestrator"
	"qcommander/internal/providers"

	// Import provider packages to trigger their init() registration
	_ "qcommander/internal/providers/anthropic"
	_ "qcommander/internal/providers/deepseek"
	_ "qcommander/internal/providers/groq"
	_ "qcommander/internal/providers/openai"
	"qcommander/internal/server"
	"qcommander/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Local .env is a development convenience; a missing file is fine.
	_ = godotenv.Load()

	logging.Setup(os.Getenv("QC_LOG_LEVEL"), os.Getenv("QC_LOG_FORMAT"))

	slog.Info("starting qcommander",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if len(cfg.Providers) == 0 {
		slog.Warn("no provider API keys configured - every turn will fail until one is set",
			"recommendation", "set OPENAI_API_KEY, ANTHROPIC_API_KEY, GROQ_API_KEY, or DEEPSEEK_API_KEY")
	}

	providerSet := providers.NewSet(cfg)

	token, err := server.EnsureToken(cfg.DataDir, cfg.Server.Token)
	if err != nil {
		slog.Error("failed to set up auth token", "error", err)
		os.Exit(1)
	}
	if cfg.Server.Token == "" {
		slog.Info("generated auth token", "file", cfg.DataDir+"/.qc_token")
	}

	settings, err := configstore.New(cfg.DataDir, configstore.Settings{
		Provider:           defaultProvider(cfg),
		Model:              defaultModel(cfg),
		PreferredTransport: cfg.PreferredTransport,
	})
	if err != nil {
		slog.Error("failed to open config store", "error", err)
		os.Exit(1)
	}

	botStore, err := bots.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open bots store", "error", err)
		os.Exit(1)
	}
	defer botStore.Close()

	var metrics *observability.Metrics
	if cfg.Server.MetricsEnabled {
		metrics = observability.NewDefault()
		slog.Info("prometheus metrics enabled", "endpoint", "/metrics")
	}

	orch := orchestrator.New(providerSet, cancel.NewRegistry(), orchestrator.Options{
		FirstChunkTimeout: cfg.Stream.FirstChunkTimeout,
		FrameBuffer:       cfg.Stream.FrameBuffer,
		Metrics:           metrics,
	})

	srv := server.New(server.Deps{
		Orchestrator: orch,
		Providers:    providerSet,
		Settings:     settings,
		Bots:         botStore,
	}, &server.Config{
		Port:           cfg.Server.Port,
		Token:          token,
		MetricsEnabled: cfg.Server.MetricsEnabled,
		BodySizeLimit:  cfg.Server.BodySizeLimit,
	})

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr, "preferred_transport", cfg.PreferredTransport)
	if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// defaultProvider picks the initial active provider: the first configured
// one in a stable preference order, falling back to openai.
func defaultProvider(cfg *config.Config) string {
	for _, name := range []string{"openai", "anthropic", "groq", "deepseek"} {
		if _, ok := cfg.Providers[name]; ok {
			return name
		}
	}
	return "openai"
}

func defaultModel(cfg *config.Config) string {
	if pc, ok := cfg.Providers[defaultProvider(cfg)]; ok {
		return pc.Model
	}
	return ""
}
