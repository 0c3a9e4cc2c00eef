package proposals

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/vaultbrain/vaultbrain/internal/toolreg"
)

// RegisterTools adds the proposal tools to the registry.
func RegisterTools(r *toolreg.Registry, mgr *Manager) error {
	for _, t := range []toolreg.Tool{
		&proposeChangeTool{mgr: mgr},
		&proposeNewFileTool{mgr: mgr},
		&proposeDeleteTool{mgr: mgr},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func proposalParams(contentKey, contentDesc string, withContent bool) map[string]any {
	props := map[string]any{
		"file_path":   map[string]any{"type": "string", "description": "Vault-relative path to the file (e.g. 'Notes/Daily/2026-08-29.md')"},
		"description": map[string]any{"type": "string", "description": "Human-readable description of the change and why"},
		"session_id":  map[string]any{"type": "string", "description": "The chat session ID for this proposal"},
	}
	required := []string{"file_path", "description", "session_id"}
	if withContent {
		props[contentKey] = map[string]any{"type": "string", "description": contentDesc}
		required = []string{"file_path", contentKey, "description", "session_id"}
	}
	return map[string]any{"type": "object", "properties": props, "required": required}
}

type proposalArgs struct {
	FilePath    string `mapstructure:"file_path"`
	NewContent  string `mapstructure:"new_content"`
	Content     string `mapstructure:"content"`
	Description string `mapstructure:"description"`
	SessionID   string `mapstructure:"session_id"`
}

func decodeProposalArgs(args map[string]any) (proposalArgs, error) {
	var in proposalArgs
	if err := mapstructure.Decode(args, &in); err != nil {
		return in, fmt.Errorf("decode arguments: %w", err)
	}
	if in.FilePath == "" {
		return in, fmt.Errorf("file_path is required")
	}
	if in.Description == "" {
		return in, fmt.Errorf("description is required")
	}
	return in, nil
}

// --- propose_file_change ---

type proposeChangeTool struct{ mgr *Manager }

func (t *proposeChangeTool) Name() string { return "propose_file_change" }
func (t *proposeChangeTool) Description() string {
	return "Propose changes to an existing file in the vault. The user will see a diff and can approve or reject."
}
func (t *proposeChangeTool) Parameters() map[string]any {
	return proposalParams("new_content", "Complete new content for the file. Must include the entire file, not just changes.", true)
}
func (t *proposeChangeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	in, err := decodeProposalArgs(args)
	if err != nil {
		return nil, err
	}
	if in.NewContent == "" {
		return nil, fmt.Errorf("new_content is required")
	}

	p, err := t.mgr.Propose(in.SessionID, in.Description, in.FilePath, OpModify, in.NewContent)
	if err != nil {
		return nil, err
	}
	msg := "Proposal created. User can view diff and approve."
	if p.Status == StatusApplied {
		msg = "Changes applied automatically."
	}
	return map[string]any{
		"proposal_id":   p.ID,
		"status":        p.Status,
		"diff_preview":  diffPreview(p.Diff),
		"lines_added":   p.LinesAdded,
		"lines_removed": p.LinesRemoved,
		"message":       msg,
	}, nil
}

// --- propose_new_file ---

type proposeNewFileTool struct{ mgr *Manager }

func (t *proposeNewFileTool) Name() string { return "propose_new_file" }
func (t *proposeNewFileTool) Description() string {
	return "Propose creating a new file in the vault. The user will see the content and can approve or reject."
}
func (t *proposeNewFileTool) Parameters() map[string]any {
	return proposalParams("content", "Content for the new file.", true)
}
func (t *proposeNewFileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	in, err := decodeProposalArgs(args)
	if err != nil {
		return nil, err
	}

	p, err := t.mgr.Propose(in.SessionID, in.Description, in.FilePath, OpCreate, in.Content)
	if err != nil {
		return nil, err
	}
	msg := "Proposal created. User can review and approve."
	if p.Status == StatusApplied {
		msg = "File created automatically."
	}
	return map[string]any{
		"proposal_id":    p.ID,
		"status":         p.Status,
		"file_path":      p.FilePath,
		"content_length": len(p.ProposedContent),
		"message":        msg,
	}, nil
}

// --- propose_delete_file ---

type proposeDeleteTool struct{ mgr *Manager }

func (t *proposeDeleteTool) Name() string { return "propose_delete_file" }
func (t *proposeDeleteTool) Description() string {
	return "Propose deleting a file from the vault. This action always requires manual approval."
}
func (t *proposeDeleteTool) Parameters() map[string]any {
	return proposalParams("", "", false)
}
func (t *proposeDeleteTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	in, err := decodeProposalArgs(args)
	if err != nil {
		return nil, err
	}

	p, err := t.mgr.Propose(in.SessionID, in.Description, in.FilePath, OpDelete, "")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"proposal_id":       p.ID,
		"status":            p.Status,
		"requires_approval": true,
		"file_path":         p.FilePath,
		"message":           "Delete proposals always require manual approval for safety.",
	}, nil
}
