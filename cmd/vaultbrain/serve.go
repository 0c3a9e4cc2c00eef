package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultbrain/vaultbrain/internal/config"
	"github.com/vaultbrain/vaultbrain/internal/executor"
	"github.com/vaultbrain/vaultbrain/internal/mcpclient"
	"github.com/vaultbrain/vaultbrain/internal/persona"
	"github.com/vaultbrain/vaultbrain/internal/proposals"
	"github.com/vaultbrain/vaultbrain/internal/provider"
	"github.com/vaultbrain/vaultbrain/internal/session"
	"github.com/vaultbrain/vaultbrain/internal/skills"
	"github.com/vaultbrain/vaultbrain/internal/toolreg"
	"github.com/vaultbrain/vaultbrain/internal/vault"
)

// app holds the wired runtime shared by all HTTP handlers.
type app struct {
	cfg       config.Config
	store     *session.Store
	vault     *vault.Vault
	registry  *toolreg.Registry
	exec      *executor.Executor
	providers map[string]provider.Provider
	skills    *skills.Loader
	proposals *proposals.Manager
	mcp       *mcpclient.ClientManager
}

// buildApp wires every component: store, vault, providers, skills,
// personas, proposals, MCP bridge, then freezes the tool registry.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := session.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	v, err := vault.New(cfg.VaultPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	providers := make(map[string]provider.Provider)
	if cfg.AnthropicAPIKey != "" {
		providers["anthropic"] = provider.NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL)
	}
	if cfg.OpenAIAPIKey != "" {
		providers["openai"] = provider.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	}
	if len(providers) == 0 {
		store.Close()
		return nil, fmt.Errorf("no provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
	}

	skillsLoader := skills.NewLoader(pickDir(cfg.SkillsDirs, 0), pickDir(cfg.SkillsDirs, 1, resolveBuiltinDir("skills")))
	personaLoader := persona.NewLoader(pickDir(cfg.PersonasDirs, 0), pickDir(cfg.PersonasDirs, 1, resolveBuiltinDir("personas")))
	council := persona.NewCouncil(personaLoader, providers, cfg.DefaultProvider)
	proposalMgr := proposals.New(v, cfg.BackupDir, cfg.AutoApply)

	registry := toolreg.NewRegistry()
	if err := vault.RegisterTools(registry, v); err != nil {
		store.Close()
		return nil, err
	}
	if err := skills.RegisterTools(registry, skillsLoader); err != nil {
		store.Close()
		return nil, err
	}
	if err := proposals.RegisterTools(registry, proposalMgr); err != nil {
		store.Close()
		return nil, err
	}
	if err := persona.RegisterTools(registry, council); err != nil {
		store.Close()
		return nil, err
	}

	mcpMgr := mcpclient.NewClientManager(cfg.MCPServers)
	if err := toolreg.RegisterMCPTools(ctx, registry, mcpMgr); err != nil {
		slog.Warn("MCP tool registration incomplete", "error", err)
	}
	registry.Freeze()

	return &app{
		cfg:       cfg,
		store:     store,
		vault:     v,
		registry:  registry,
		exec:      executor.New(registry, cfg.ToolTimeout),
		providers: providers,
		skills:    skillsLoader,
		proposals: proposalMgr,
		mcp:       mcpMgr,
	}, nil
}

func (a *app) close() {
	a.mcp.Close()
	if err := a.store.Close(); err != nil {
		slog.Error("store close failed", "error", err)
	}
}

// pickDir returns dirs[i], or the first fallback when it is absent.
func pickDir(dirs []string, i int, fallback ...string) string {
	if i < len(dirs) {
		return dirs[i]
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

func runServe(cfg config.Config) {
	initLogger(os.Stdout)

	if addr := getFlagValue("--addr"); addr != "" {
		cfg.Addr = addr
	}

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(sigCtx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	mx := http.NewServeMux()
	mx.HandleFunc("POST /chat", a.handleChat)
	mx.HandleFunc("GET /chat/sessions", a.handleListSessions)
	mx.HandleFunc("GET /chat/sessions/{id}", a.handleGetSession)
	mx.HandleFunc("DELETE /chat/sessions/{id}", a.handleDeleteSession)
	mx.HandleFunc("POST /chat/sessions/{id}/title", a.handleGenerateTitle)
	mx.HandleFunc("GET /chat/providers", a.handleProviders)
	mx.HandleFunc("GET /proposals", a.handleListProposals)
	mx.HandleFunc("GET /proposals/{id}", a.handleGetProposal)
	mx.HandleFunc("POST /proposals/{id}/approve", a.handleApproveProposal)
	mx.HandleFunc("POST /proposals/{id}/reject", a.handleRejectProposal)
	mx.Handle("GET /metrics", promhttp.Handler())
	mx.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "vaultbrain",
			"tools":   len(a.registry.List()),
		})
	})

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     mx,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: chat responses stream for minutes.
	}

	go func() {
		slog.Info("listening", "addr", srv.Addr, "tools", len(a.registry.List()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCtx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	slog.Info("stopped")
}
