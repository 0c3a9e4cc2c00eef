package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vaultbrain/vaultbrain/internal/config"
	"github.com/vaultbrain/vaultbrain/internal/toolreg"
)

// runMCP exposes the tool registry as an MCP server so other agents can
// use the vault, skills, proposal and persona tools directly.
func runMCP(cfg config.Config) {
	stdio := hasFlag("--stdio")

	logWriter := os.Stdout
	if stdio {
		logWriter = os.Stderr
	}
	initLogger(logWriter)

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(sigCtx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "vaultbrain",
		Version: "1.0.0",
	}, nil)
	exportRegistry(server, a.registry)
	slog.Info("vaultbrain MCP server", "tools", len(a.registry.List()))

	if stdio {
		slog.Info("running in stdio mode")
		if err := server.Run(sigCtx, &mcp.StdioTransport{}); err != nil {
			slog.Error("stdio server failed", "error", err)
			a.close()
			os.Exit(1)
		}
		return
	}

	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, &mcp.StreamableHTTPOptions{Stateless: true})

	mx := http.NewServeMux()
	mx.Handle("/mcp", handler)
	mx.Handle("/mcp/", handler)
	mx.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "vaultbrain"})
	})

	addr := cfg.Addr
	if p := getFlagValue("--port"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      mx,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", srv.Addr)
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
}

// exportRegistry mirrors every registry tool onto the MCP server.
func exportRegistry(server *mcp.Server, r *toolreg.Registry) {
	for _, name := range r.List() {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		server.AddTool(&mcp.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schemaFromMap(t.Parameters()),
		}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := map[string]any{}
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					return nil, fmt.Errorf("decode arguments: %w", err)
				}
			}
			out, err := t.Execute(ctx, args)
			if err != nil {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: serializeToolOutput(out)}},
			}, nil
		})
	}
}

func serializeToolOutput(out any) string {
	if s, ok := out.(string); ok {
		return s
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", out)
	}
	return string(data)
}

// schemaFromMap converts a raw JSON schema map into the SDK's schema type.
func schemaFromMap(params map[string]any) *jsonschema.Schema {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return &s
}
