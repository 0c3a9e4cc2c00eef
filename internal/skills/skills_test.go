package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vaultbrain/vaultbrain/internal/provider"
	"github.com/vaultbrain/vaultbrain/internal/toolreg"
)

func writeSkill(t *testing.T, dir, id, frontmatter, body string) {
	t.Helper()
	skillDir := filepath.Join(dir, id)
	if err := os.MkdirAll(skillDir, 0o750); err != nil {
		t.Fatal(err)
	}
	content := "---\n" + frontmatter + "\n---\n" + body
	if err := os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newTestLoader(t *testing.T) (*Loader, string, string) {
	t.Helper()
	workspace := t.TempDir()
	builtin := t.TempDir()

	writeSkill(t, builtin, "first-principles",
		"name: First Principles\ndescription: Break problems into fundamentals\nwhen_to_use: Use when analyzing a hard decision\ncategory: analysis\ntags: [reasoning, decision]",
		"Strip assumptions. Rebuild from what is known.")
	writeSkill(t, builtin, "weekly-review",
		"name: Weekly Review\ndescription: GTD weekly review checklist\nwhen_to_use: Use for weekly planning sessions\ncategory: workflow\ntags: [gtd, planning, review]",
		"1. Clear inboxes\n2. Review projects")
	return NewLoader(workspace, builtin), workspace, builtin
}

func TestLoader_ListAndLoad(t *testing.T) {
	l, _, _ := newTestLoader(t)

	list := l.List()
	if len(list) != 2 {
		t.Fatalf("List = %+v", list)
	}
	if list[0].ID != "first-principles" || list[0].Category != "analysis" {
		t.Errorf("skill = %+v", list[0])
	}
	if list[0].Content != "" {
		t.Errorf("List must not carry content")
	}

	s, ok := l.Load("weekly-review")
	if !ok {
		t.Fatal("Load failed")
	}
	if !strings.Contains(s.Content, "Clear inboxes") {
		t.Errorf("content = %q", s.Content)
	}
	if len(s.Tags) != 3 || s.Tags[0] != "gtd" {
		t.Errorf("tags = %v", s.Tags)
	}

	if _, ok := l.Load("nope"); ok {
		t.Error("Load(nope) should fail")
	}
}

func TestLoader_WorkspaceShadowsBuiltin(t *testing.T) {
	l, workspace, _ := newTestLoader(t)
	writeSkill(t, workspace, "weekly-review",
		"name: My Weekly Review\ndescription: customized\ncategory: workflow",
		"My own checklist.")

	list := l.List()
	if len(list) != 2 {
		t.Fatalf("List = %+v", list)
	}
	for _, s := range list {
		if s.ID == "weekly-review" {
			if s.Source != "workspace" || s.Name != "My Weekly Review" {
				t.Errorf("shadowed skill = %+v", s)
			}
		}
	}

	s, _ := l.Load("weekly-review")
	if !strings.Contains(s.Content, "My own checklist") {
		t.Errorf("content = %q", s.Content)
	}
}

func TestMatcher_ThresholdAndLimit(t *testing.T) {
	l, _, _ := newTestLoader(t)
	m := NewMatcher(l.List())

	// Strong hit on the weekly review skill.
	matches := m.Match([]provider.Message{
		{Role: "user", Content: "Help me with my GTD weekly planning review"},
	}, nil)
	if len(matches) == 0 {
		t.Fatal("expected a match")
	}
	if matches[0].Skill.ID != "weekly-review" {
		t.Errorf("best match = %+v", matches[0])
	}

	// Unrelated context clears nothing.
	none := m.Match([]provider.Message{
		{Role: "user", Content: "what is the weather like"},
	}, nil)
	if len(none) != 0 {
		t.Errorf("matches = %+v", none)
	}

	// Already injected skills stay out.
	again := m.Match([]provider.Message{
		{Role: "user", Content: "Help me with my GTD weekly planning review"},
	}, []string{"weekly-review"})
	for _, match := range again {
		if match.Skill.ID == "weekly-review" {
			t.Errorf("already injected skill matched again")
		}
	}
}

func TestSkillsTools(t *testing.T) {
	l, _, _ := newTestLoader(t)
	r := toolreg.NewRegistry()
	if err := RegisterTools(r, l); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	out, err := r.Execute(ctx, "list_skills", map[string]any{"category": "workflow"})
	if err != nil {
		t.Fatalf("list_skills: %v", err)
	}
	listed := out.(map[string]any)
	if listed["count"] != 1 {
		t.Errorf("list_skills = %+v", listed)
	}

	out, err = r.Execute(ctx, "get_skill", map[string]any{"skill_id": "first-principles"})
	if err != nil {
		t.Fatalf("get_skill: %v", err)
	}
	if !strings.Contains(out.(Skill).Content, "Strip assumptions") {
		t.Errorf("get_skill = %+v", out)
	}

	if _, err := r.Execute(ctx, "get_skill", map[string]any{"skill_id": "nope"}); err == nil {
		t.Error("get_skill(nope) should error")
	}

	out, err = r.Execute(ctx, "search_skills", map[string]any{"query": "gtd"})
	if err != nil {
		t.Fatalf("search_skills: %v", err)
	}
	if out.(map[string]any)["count"] != 1 {
		t.Errorf("search_skills = %+v", out)
	}
}

func TestRender(t *testing.T) {
	got := Render(Skill{Name: "First Principles", Description: "Break it down", Content: "Body text"})
	if !strings.HasPrefix(got, "# Skill: First Principles") || !strings.Contains(got, "Body text") {
		t.Errorf("Render = %q", got)
	}
}
