package persona

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/vaultbrain/vaultbrain/internal/toolreg"
)

// RegisterTools adds the persona consultation tools to the registry.
func RegisterTools(r *toolreg.Registry, c *Council) error {
	for _, t := range []toolreg.Tool{
		&queryPersonaTool{council: c},
		&runCouncilTool{council: c},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// --- query_persona ---

type queryPersonaTool struct{ council *Council }

func (t *queryPersonaTool) Name() string { return "query_persona" }
func (t *queryPersonaTool) Description() string {
	return "Ask a single persona for their perspective on a question. Each persona has its own system prompt and can run on a different provider."
}
func (t *queryPersonaTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"persona_name": map[string]any{"type": "string", "description": "Persona id or name as returned by run_council"},
			"provider":     map[string]any{"type": "string", "description": "Override provider (anthropic or openai); defaults to the persona's own"},
			"query":        map[string]any{"type": "string", "description": "The question or situation to present to the persona"},
		},
		"required": []string{"persona_name", "query"},
	}
}
func (t *queryPersonaTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		PersonaName string `mapstructure:"persona_name"`
		Provider    string `mapstructure:"provider"`
		Query       string `mapstructure:"query"`
	}
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if in.PersonaName == "" || in.Query == "" {
		return nil, fmt.Errorf("persona_name and query are required")
	}

	p, err := t.council.Query(ctx, in.PersonaName, in.Provider, in.Query)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// --- run_council ---

type runCouncilTool struct{ council *Council }

func (t *runCouncilTool) Name() string { return "run_council" }
func (t *runCouncilTool) Description() string {
	return "Put a question to several personas at once and collect their labelled perspectives. Omit personas to consult everyone."
}
func (t *runCouncilTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The question to put to the council"},
			"personas": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Persona ids to consult (default: all)",
			},
		},
		"required": []string{"query"},
	}
}
func (t *runCouncilTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Query    string   `mapstructure:"query"`
		Personas []string `mapstructure:"personas"`
	}
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if in.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	perspectives := t.council.Consult(ctx, in.Query, in.Personas)
	return map[string]any{"perspectives": perspectives, "count": len(perspectives)}, nil
}
