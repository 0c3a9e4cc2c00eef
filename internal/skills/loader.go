// Package skills discovers thinking-framework skills on disk and matches
// them to conversation context.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is one framework loaded from a SKILL.md file.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	WhenToUse   string   `json:"when_to_use" yaml:"when_to_use"`
	Category    string   `json:"category" yaml:"category"`
	Tags        []string `json:"tags" yaml:"tags"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords"`
	Source      string   `json:"source"` // workspace or builtin
	Path        string   `json:"-"`
	Content     string   `json:"content,omitempty" yaml:"-"`
}

// Loader discovers skills from the filesystem. Each skill is a directory
// holding a SKILL.md with YAML frontmatter. Workspace skills shadow builtin
// skills with the same id.
type Loader struct {
	workspaceDir string
	builtinDir   string
}

// NewLoader creates a skills loader.
func NewLoader(workspaceDir, builtinDir string) *Loader {
	return &Loader{workspaceDir: workspaceDir, builtinDir: builtinDir}
}

// List discovers all skills, metadata only, sorted by id.
func (l *Loader) List() []Skill {
	seen := make(map[string]bool)
	var out []Skill

	if l.workspaceDir != "" {
		for _, s := range l.scanDir(l.workspaceDir, "workspace") {
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	if l.builtinDir != "" {
		for _, s := range l.scanDir(l.builtinDir, "builtin") {
			if !seen[s.ID] {
				out = append(out, s)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load returns a skill with its full content.
func (l *Loader) Load(id string) (Skill, bool) {
	for _, pair := range []struct{ dir, source string }{
		{l.workspaceDir, "workspace"},
		{l.builtinDir, "builtin"},
	} {
		if pair.dir == "" {
			continue
		}
		path := filepath.Join(pair.dir, id, "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		s, err := parseSkill(id, path, pair.source, data)
		if err != nil {
			continue
		}
		return s, true
	}
	return Skill{}, false
}

func (l *Loader) scanDir(dir, source string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		s, err := parseSkill(e.Name(), path, source, data)
		if err != nil {
			continue
		}
		s.Content = "" // metadata only
		out = append(out, s)
	}
	return out
}

// parseSkill splits the frontmatter from the body and decodes it.
func parseSkill(id, path, source string, data []byte) (Skill, error) {
	s := Skill{ID: id, Path: path, Source: source}

	front, body, err := splitFrontmatter(string(data))
	if err != nil {
		return s, err
	}
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &s); err != nil {
			return s, fmt.Errorf("parse frontmatter of %s: %w", path, err)
		}
	}
	if s.Name == "" {
		s.Name = id
	}
	s.Content = strings.TrimSpace(body)
	return s, nil
}

// splitFrontmatter separates a leading --- YAML block from the body. A file
// without frontmatter is all body.
func splitFrontmatter(text string) (front, body string, err error) {
	if !strings.HasPrefix(text, "---\n") {
		return "", text, nil
	}
	rest := text[4:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter")
	}
	front = rest[:idx]
	body = rest[idx+4:]
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = ""
	}
	return front, body, nil
}

// Render formats a skill for injection into a system prompt.
func Render(s Skill) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Skill: %s\n\n", s.Name)
	if s.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", s.Description)
	}
	b.WriteString(s.Content)
	return b.String()
}
