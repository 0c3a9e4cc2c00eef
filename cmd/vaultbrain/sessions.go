package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vaultbrain/vaultbrain/internal/provider"
	"github.com/vaultbrain/vaultbrain/internal/session"
)

// titleTimeout bounds the cheap-model call that names a session.
const titleTimeout = 30 * time.Second

func (a *app) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (a *app) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := a.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	history, err := a.store.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []session.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "messages": history})
}

func (a *app) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// handleGenerateTitle asks a cheap model for a 3-4 word session title.
// An existing title is returned as-is.
func (a *app) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := a.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess.Title != "" {
		writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "title": sess.Title})
		return
	}

	history, err := a.store.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusBadRequest, "session has no messages")
		return
	}

	title, err := a.generateTitle(r, history)
	if err != nil {
		slog.Error("title generation failed", "session_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "title generation failed")
		return
	}
	if err := a.store.SetTitle(r.Context(), id, title); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "title": title})
}

func (a *app) generateTitle(r *http.Request, history []session.Message) (string, error) {
	// Prefer the configured cheap Anthropic model, fall back to whatever
	// provider is available.
	prov, ok := a.providers["anthropic"]
	model := a.cfg.TitleModel
	if !ok {
		for _, p := range a.providers {
			prov = p
			model = p.DefaultModel()
			break
		}
	}

	var convo strings.Builder
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		convo.WriteString(m.Role)
		convo.WriteString(": ")
		convo.WriteString(truncate(m.Content, 500))
		convo.WriteString("\n")
		if convo.Len() > 4000 {
			break
		}
	}

	prompt := "Generate a 3-4 word title summarizing this conversation.\n\n" +
		convo.String() +
		"\nRespond with ONLY the title, no quotes or punctuation."

	ctx, cancel := context.WithTimeout(r.Context(), titleTimeout)
	defer cancel()

	var title strings.Builder
	for ev := range prov.Chat(ctx, provider.Request{
		Messages:  []provider.Message{{Role: "user", Content: prompt}},
		Model:     model,
		MaxTokens: 50,
	}) {
		switch ev.Type {
		case provider.EventContent:
			title.WriteString(ev.Text)
		case provider.EventError:
			return "", errors.New(ev.Err)
		}
	}

	out := strings.TrimSpace(title.String())
	out = strings.NewReplacer(`"`, "", "'", "").Replace(out)
	return truncate(out, 100), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// handleProviders returns the model catalog of every configured provider.
func (a *app) handleProviders(w http.ResponseWriter, r *http.Request) {
	type providerInfo struct {
		Name         string               `json:"name"`
		DefaultModel string               `json:"default_model"`
		Models       []provider.ModelInfo `json:"models"`
	}
	out := make([]providerInfo, 0, len(a.providers))
	for _, name := range []string{"anthropic", "openai"} {
		p, ok := a.providers[name]
		if !ok {
			continue
		}
		out = append(out, providerInfo{
			Name:         p.Name(),
			DefaultModel: p.DefaultModel(),
			Models:       p.Models(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
