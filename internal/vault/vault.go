// Package vault gives read access to the user's knowledge vault on disk.
package vault

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPathEscape is returned when a path would leave the vault root.
var ErrPathEscape = errors.New("path escapes vault root")

// maxSearchResults caps search output regardless of the requested limit.
const maxSearchResults = 50

// Vault wraps a vault directory. All paths are vault-relative; anything that
// resolves outside the root is rejected.
type Vault struct {
	root string
}

// New creates a vault over the given root directory.
func New(root string) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	return &Vault{root: abs}, nil
}

// Root returns the absolute vault root.
func (v *Vault) Root() string { return v.root }

// Resolve turns a vault-relative path into an absolute one, rejecting
// escapes. An empty path resolves to the root itself.
func (v *Vault) Resolve(rel string) (string, error) {
	cleaned := filepath.Clean("/" + rel) // forces the path under /
	abs := filepath.Join(v.root, cleaned)
	if abs != v.root && !strings.HasPrefix(abs, v.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return abs, nil
}

// FileInfo describes one vault entry.
type FileInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Read returns the content of a vault file.
func (v *Vault) Read(rel string) (string, error) {
	abs, err := v.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", rel)
		}
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// List returns the entries of a vault directory, directories first.
func (v *Vault) List(rel string) ([]FileInfo, error) {
	abs, err := v.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", rel)
		}
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:  e.Name(),
			Path:  filepath.ToSlash(filepath.Join(rel, e.Name())),
			IsDir: e.IsDir(),
			Size:  info.Size(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SearchResult is one matching line in a vault file.
type SearchResult struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Search walks the vault looking for case-insensitive text matches in
// markdown and text files. Results are capped at limit.
func (v *Vault) Search(query string, limit int, pathContains string) ([]SearchResult, error) {
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}
	needle := strings.ToLower(query)
	var out []SearchResult

	err := filepath.WalkDir(v.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || len(out) >= limit {
			if len(out) >= limit {
				return filepath.SkipAll
			}
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != v.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !isTextFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(v.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if pathContains != "" && !strings.Contains(strings.ToLower(rel), strings.ToLower(pathContains)) {
			return nil
		}
		matches, err := searchFile(path, rel, needle, limit-len(out))
		if err != nil {
			return nil
		}
		out = append(out, matches...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search vault: %w", err)
	}
	return out, nil
}

func searchFile(abs, rel, needle string, limit int) ([]SearchResult, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []SearchResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.Contains(strings.ToLower(text), needle) {
			out = append(out, SearchResult{Path: rel, Line: line, Text: strings.TrimSpace(text)})
			if len(out) >= limit {
				break
			}
		}
	}
	return out, scanner.Err()
}

func isTextFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt", ".org", ".csv", ".json", ".yaml", ".yml":
		return true
	}
	return false
}
