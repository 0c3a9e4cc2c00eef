// Package persona loads advisor personas and runs single-shot
// consultations with them, individually or as a council.
package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is a named advisor voice with its own system prompt.
type Persona struct {
	ID          string   `json:"id" yaml:"-"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Provider    string   `json:"provider,omitempty" yaml:"provider"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
	Source      string   `json:"source" yaml:"-"`
	Prompt      string   `json:"-" yaml:"-"`
}

// Loader reads persona markdown files from workspace and builtin
// directories. Workspace personas shadow builtin ones with the same id.
type Loader struct {
	workspaceDir string
	builtinDir   string
}

// NewLoader creates a persona loader. Either directory may be empty.
func NewLoader(workspaceDir, builtinDir string) *Loader {
	return &Loader{workspaceDir: workspaceDir, builtinDir: builtinDir}
}

// List returns all personas sorted by id.
func (l *Loader) List() []Persona {
	byID := make(map[string]Persona)
	for _, p := range scanDir(l.builtinDir, "builtin") {
		byID[p.ID] = p
	}
	for _, p := range scanDir(l.workspaceDir, "workspace") {
		byID[p.ID] = p
	}

	out := make([]Persona, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a persona by id or name, case-insensitive.
func (l *Loader) Get(name string) (Persona, bool) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, p := range l.List() {
		if p.ID == want || strings.ToLower(p.Name) == want {
			return p, true
		}
	}
	return Persona{}, false
}

// Names returns the ids of all known personas.
func (l *Loader) Names() []string {
	all := l.List()
	out := make([]string, len(all))
	for i, p := range all {
		out[i] = p.ID
	}
	return out
}

// scanDir reads every *.md file in dir as a persona. The file name (sans
// extension) is the persona id; frontmatter carries the metadata and the
// body is the system prompt.
func scanDir(dir, source string) []Persona {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []Persona
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		p, err := parsePersona(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		p.ID = strings.TrimSuffix(e.Name(), ".md")
		if p.Name == "" {
			p.Name = p.ID
		}
		p.Source = source
		out = append(out, p)
	}
	return out
}

func parsePersona(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}

	var p Persona
	front, body := splitFrontmatter(string(data))
	if front != "" {
		if err := yaml.Unmarshal([]byte(front), &p); err != nil {
			return Persona{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	p.Prompt = strings.TrimSpace(body)
	if p.Prompt == "" {
		return Persona{}, fmt.Errorf("parse %s: empty prompt", path)
	}
	return p, nil
}

// splitFrontmatter separates a leading --- delimited YAML block from the
// markdown body. Content without frontmatter is returned whole as body.
func splitFrontmatter(content string) (front, body string) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return "", content
	}
	front, body, ok = strings.Cut(rest, "\n---\n")
	if !ok {
		return "", content
	}
	return front, body
}
