package persona

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vaultbrain/vaultbrain/internal/provider"
)

const (
	// consultMaxTokens keeps persona answers short enough to sit inside a
	// tool result.
	consultMaxTokens = 1024

	consultTemperature = 0.7
)

// Council runs no-tools consultations with personas across providers.
type Council struct {
	loader          *Loader
	providers       map[string]provider.Provider
	defaultProvider string
}

// NewCouncil creates a council over the given providers. defaultProvider
// is used when a persona does not name one.
func NewCouncil(loader *Loader, providers map[string]provider.Provider, defaultProvider string) *Council {
	return &Council{loader: loader, providers: providers, defaultProvider: defaultProvider}
}

// Perspective is one persona's answer to a council question.
type Perspective struct {
	Persona  string `json:"persona"`
	Provider string `json:"provider"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Query runs a single no-tools completion under the persona's system
// prompt. providerName overrides the persona's own provider preference.
func (c *Council) Query(ctx context.Context, personaName, providerName, question string) (Perspective, error) {
	p, ok := c.loader.Get(personaName)
	if !ok {
		return Perspective{}, fmt.Errorf("persona not found: %s (available: %s)",
			personaName, strings.Join(c.loader.Names(), ", "))
	}

	name := providerName
	if name == "" {
		name = p.Provider
	}
	if name == "" {
		name = c.defaultProvider
	}
	prov, ok := c.providers[name]
	if !ok {
		return Perspective{}, fmt.Errorf("provider not configured: %s", name)
	}

	temp := consultTemperature
	req := provider.Request{
		Messages:    []provider.Message{{Role: "user", Content: question}},
		System:      p.Prompt,
		Model:       prov.DefaultModel(),
		MaxTokens:   consultMaxTokens,
		Temperature: &temp,
	}

	var text strings.Builder
	for ev := range prov.Chat(ctx, req) {
		switch ev.Type {
		case provider.EventContent:
			text.WriteString(ev.Text)
		case provider.EventError:
			return Perspective{}, fmt.Errorf("query %s via %s: %s", p.Name, name, ev.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return Perspective{}, err
	}

	slog.Info("persona consulted", "persona", p.ID, "provider", name)
	return Perspective{Persona: p.Name, Provider: name, Response: text.String()}, nil
}

// Consult fans the question out to the named personas concurrently and
// returns their perspectives in the order the names were given. A failed
// persona contributes an error entry instead of sinking the council.
func (c *Council) Consult(ctx context.Context, question string, personaNames []string) []Perspective {
	if len(personaNames) == 0 {
		personaNames = c.loader.Names()
	}

	out := make([]Perspective, len(personaNames))
	var wg sync.WaitGroup
	for i, name := range personaNames {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.Query(ctx, name, "", question)
			if err != nil {
				out[i] = Perspective{Persona: name, Error: err.Error()}
				return
			}
			out[i] = p
		}()
	}
	wg.Wait()
	return out
}
