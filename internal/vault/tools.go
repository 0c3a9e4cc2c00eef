package vault

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/vaultbrain/vaultbrain/internal/toolreg"
)

// RegisterTools adds the vault query tools to the registry.
func RegisterTools(r *toolreg.Registry, v *Vault) error {
	for _, t := range []toolreg.Tool{
		&readFileTool{vault: v},
		&listDirTool{vault: v},
		&searchTool{vault: v},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// --- read_vault_file ---

type readFileTool struct{ vault *Vault }

func (t *readFileTool) Name() string { return "read_vault_file" }
func (t *readFileTool) Description() string {
	return "Read the full content of a file from the vault. Path must be vault-relative (e.g. 'Projects/project-name/note.md')."
}
func (t *readFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Vault-relative path to the file"},
		},
		"required": []string{"path"},
	}
}
func (t *readFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Path string `mapstructure:"path"`
	}
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if in.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	content, err := t.vault.Read(in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": in.Path, "content": content}, nil
}

// --- list_vault_directory ---

type listDirTool struct{ vault *Vault }

func (t *listDirTool) Name() string { return "list_vault_directory" }
func (t *listDirTool) Description() string {
	return "List files and directories in a vault folder. Returns names, paths, types, and sizes."
}
func (t *listDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Vault-relative path to directory (empty string for root)"},
		},
	}
}
func (t *listDirTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Path string `mapstructure:"path"`
	}
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	entries, err := t.vault.List(in.Path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": in.Path, "entries": entries, "count": len(entries)}, nil
}

// --- search_vault ---

type searchTool struct{ vault *Vault }

func (t *searchTool) Name() string { return "search_vault" }
func (t *searchTool) Description() string {
	return "Search the vault for text matches. Returns file paths with matching lines."
}
func (t *searchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":         map[string]any{"type": "string", "description": "Search query"},
			"limit":         map[string]any{"type": "integer", "description": "Maximum number of results (default 10, max 50)"},
			"path_contains": map[string]any{"type": "string", "description": "Filter by path substring (e.g. 'journal')"},
		},
		"required": []string{"query"},
	}
}
func (t *searchTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Query        string `mapstructure:"query"`
		Limit        int    `mapstructure:"limit"`
		PathContains string `mapstructure:"path_contains"`
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &in,
		WeaklyTypedInput: true, // JSON numbers arrive as float64
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if in.Limit == 0 {
		in.Limit = 10
	}

	results, err := t.vault.Search(in.Query, in.Limit, in.PathContains)
	if err != nil {
		return nil, err
	}
	return map[string]any{"query": in.Query, "results": results, "count": len(results)}, nil
}
