// vaultbrain is a second-brain chat runtime: streaming LLM chat over a
// personal knowledge vault, with a tool execution loop, skills, personas
// and file change proposals.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/vaultbrain/vaultbrain/internal/config"
)

func main() {
	loadDotenv(".env")

	cfg, err := config.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		runServe(cfg)
	case "mcp":
		runMCP(cfg)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `vaultbrain - second brain chat runtime

Usage:
  vaultbrain serve [--addr :8420]      HTTP chat API with SSE streaming
  vaultbrain mcp [--port PORT|--stdio] Expose the tool registry as an MCP server
`)
}

func initLogger(w *os.File) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})))
}
