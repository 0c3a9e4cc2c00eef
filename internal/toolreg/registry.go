package toolreg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vaultbrain/vaultbrain/internal/provider"
)

var (
	// ErrDuplicateTool is returned when a tool name is registered twice.
	ErrDuplicateTool = errors.New("duplicate tool")

	// ErrToolNotFound is returned when executing an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrRegistryFrozen is returned when registering after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// Tool is the interface that all agent-callable tools implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema object
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Registry holds all registered tools. It is populated once at startup and
// frozen before serving; after Freeze the catalog is read-only.
type Registry struct {
	tools  map[string]Tool
	frozen bool
	mu     sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry. Registering a name twice or
// registering after Freeze is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %s: %w", t.Name(), ErrRegistryFrozen)
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("register %s: %w", t.Name(), ErrDuplicateTool)
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister registers a tool and panics on error. For startup wiring
// where a duplicate name is a programming mistake.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Freeze makes the catalog read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a tool by name with the given arguments. An unknown name is
// an error; tool errors propagate unchanged to the caller.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Execute(ctx, args)
}

// List returns all tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns neutral tool definitions for all registered tools,
// sorted by name.
func (r *Registry) Definitions() []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]provider.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// DefinitionsFor returns tool definitions in a provider wire format.
func (r *Registry) DefinitionsFor(format string) ([]map[string]any, error) {
	return provider.FormatTools(format, r.Definitions())
}

// FuncTool adapts a closure into a Tool. Used for bridged tools whose
// behavior is defined at runtime.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	ToolParameters  map[string]any
	Fn              func(ctx context.Context, args map[string]any) (any, error)
}

func (t *FuncTool) Name() string               { return t.ToolName }
func (t *FuncTool) Description() string        { return t.ToolDescription }
func (t *FuncTool) Parameters() map[string]any { return t.ToolParameters }
func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.Fn(ctx, args)
}
