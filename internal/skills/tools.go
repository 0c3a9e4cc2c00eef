package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/vaultbrain/vaultbrain/internal/toolreg"
)

// RegisterTools adds the read-only skills tools to the registry.
func RegisterTools(r *toolreg.Registry, loader *Loader) error {
	for _, t := range []toolreg.Tool{
		&listSkillsTool{loader: loader},
		&getSkillTool{loader: loader},
		&searchSkillsTool{loader: loader},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// --- list_skills ---

type listSkillsTool struct{ loader *Loader }

func (t *listSkillsTool) Name() string { return "list_skills" }
func (t *listSkillsTool) Description() string {
	return "List all available thinking frameworks and skills. Optionally filter by category."
}
func (t *listSkillsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]any{"type": "string", "description": "Filter by category (workflow, analysis, knowledge, creation, integration, training, productivity)"},
		},
	}
}
func (t *listSkillsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Category string `mapstructure:"category"`
	}
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	all := t.loader.List()
	out := make([]Skill, 0, len(all))
	for _, s := range all {
		if in.Category != "" && !strings.EqualFold(s.Category, in.Category) {
			continue
		}
		out = append(out, s)
	}
	return map[string]any{"skills": out, "count": len(out)}, nil
}

// --- get_skill ---

type getSkillTool struct{ loader *Loader }

func (t *getSkillTool) Name() string { return "get_skill" }
func (t *getSkillTool) Description() string {
	return "Get the full content of a specific skill by id."
}
func (t *getSkillTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"skill_id": map[string]any{"type": "string", "description": "Skill id as returned by list_skills"},
		},
		"required": []string{"skill_id"},
	}
}
func (t *getSkillTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		SkillID string `mapstructure:"skill_id"`
	}
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if in.SkillID == "" {
		return nil, fmt.Errorf("skill_id is required")
	}

	s, ok := t.loader.Load(in.SkillID)
	if !ok {
		return nil, fmt.Errorf("skill not found: %s", in.SkillID)
	}
	return s, nil
}

// --- search_skills ---

type searchSkillsTool struct{ loader *Loader }

func (t *searchSkillsTool) Name() string { return "search_skills" }
func (t *searchSkillsTool) Description() string {
	return "Search skills by name, description, or tags."
}
func (t *searchSkillsTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Search query"},
		},
		"required": []string{"query"},
	}
}
func (t *searchSkillsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Query string `mapstructure:"query"`
	}
	if err := mapstructure.Decode(args, &in); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	query := strings.ToLower(strings.TrimSpace(in.Query))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	var out []Skill
	for _, s := range t.loader.List() {
		if skillMatchesQuery(s, query) {
			out = append(out, s)
		}
	}
	return map[string]any{"skills": out, "count": len(out)}, nil
}

func skillMatchesQuery(s Skill, query string) bool {
	if strings.Contains(strings.ToLower(s.Name), query) ||
		strings.Contains(strings.ToLower(s.Description), query) {
		return true
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}
