package toolreg

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vaultbrain/vaultbrain/internal/mcpclient"
)

// RegisterMCPTools discovers tools on every configured MCP server and
// registers each one under mcp_<server>_<tool>. A server that cannot be
// reached is logged and skipped so one bad remote does not block startup.
func RegisterMCPTools(ctx context.Context, r *Registry, mgr *mcpclient.ClientManager) error {
	for _, serverID := range mgr.ListServers() {
		infos, err := mgr.Discover(ctx, serverID)
		if err != nil {
			slog.Warn("mcp discovery failed, skipping server",
				slog.String("server_id", serverID),
				slog.Any("error", err))
			continue
		}
		for _, info := range infos {
			name := fmt.Sprintf("mcp_%s_%s", serverID, info.Name)
			params := info.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			sid, tool := serverID, info.Name
			err := r.Register(&FuncTool{
				ToolName:        name,
				ToolDescription: fmt.Sprintf("[%s] %s", serverID, info.Description),
				ToolParameters:  params,
				Fn: func(ctx context.Context, args map[string]any) (any, error) {
					return mgr.Call(ctx, sid, tool, args)
				},
			})
			if err != nil {
				return fmt.Errorf("bridge %s: %w", name, err)
			}
			slog.Debug("mcp tool registered",
				slog.String("server_id", serverID),
				slog.String("tool", name))
		}
	}
	return nil
}
