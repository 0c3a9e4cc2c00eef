package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vaultbrain/vaultbrain/internal/chat"
	"github.com/vaultbrain/vaultbrain/internal/provider"
	"github.com/vaultbrain/vaultbrain/internal/session"
	"github.com/vaultbrain/vaultbrain/internal/skills"
)

// chatRequest is the POST /chat body.
type chatRequest struct {
	Mode      string        `json:"mode"`     // quick, tools, agent
	Provider  string        `json:"provider"` // anthropic, openai
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	SessionID string        `json:"session_id"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleChat runs one chat request through the tool loop and streams the
// uniform events back as SSE.
func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.Mode == "" {
		req.Mode = "tools"
	}
	if req.Provider == "" {
		req.Provider = a.cfg.DefaultProvider
	}
	prov, ok := a.providers[req.Provider]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown provider: "+req.Provider)
		return
	}
	model := req.Model
	if model == "" {
		model = a.cfg.DefaultModel
	}
	if model == "" {
		model = prov.DefaultModel()
	}

	ctx := r.Context()
	sess, err := a.store.GetOrCreate(ctx, req.SessionID, req.Provider, model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		if _, err := a.store.SaveMessage(ctx, session.Message{
			SessionID: sess.ID,
			Role:      m.Role,
			Content:   m.Content,
		}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	history, err := a.store.History(ctx, sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	messages := toProviderMessages(history)

	var injected []string
	if req.Mode != "quick" {
		injected = a.injectSkills(ctx, sess, messages)
	}

	system := chat.BuildSystemPrompt(chat.PromptOptions{
		SessionID: sess.ID,
		Mode:      req.Mode,
		Skills:    injected,
	})

	var tools []provider.ToolDefinition
	if req.Mode != "quick" {
		tools = a.registry.Definitions()
	}
	loop := chat.NewLoop(prov, a.exec, tools, a.store)
	events := loop.Run(ctx, chat.Request{
		SessionID: sess.ID,
		Messages:  messages,
		System:    system,
		Model:     model,
		MaxTurns:  a.cfg.MaxTurns,
		NoTools:   req.Mode == "quick",
	})

	streamSSE(w, events)
}

// injectSkills matches skills against the conversation, renders the new
// ones into prompt blocks and records them on the session.
func (a *app) injectSkills(ctx context.Context, sess session.Session, messages []provider.Message) []string {
	matcher := skills.NewMatcher(a.skills.List())
	matches := matcher.Match(messages, sess.InjectedSkills)
	if len(matches) == 0 {
		return nil
	}

	var rendered []string
	var ids []string
	for _, m := range matches {
		full, ok := a.skills.Load(m.Skill.ID)
		if !ok {
			continue
		}
		rendered = append(rendered, skills.Render(full))
		ids = append(ids, full.ID)
	}
	if err := a.store.AddInjectedSkills(ctx, sess.ID, ids); err != nil {
		slog.Warn("recording injected skills failed", "session_id", sess.ID, "error", err)
	}
	slog.Info("skills injected", "session_id", sess.ID, "skills", ids)
	return rendered
}

// streamSSE relays loop events as server-sent events, flushing each one.
func streamSSE(w http.ResponseWriter, events <-chan provider.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("event marshal failed", "type", ev.Type, "error", err)
			continue
		}
		if _, err := w.Write([]byte("event: " + string(ev.Type) + "\ndata: " + string(data) + "\n\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// toProviderMessages flattens persisted history for replay. Tool calls and
// results stay in the store for the UI; the next request only needs the
// conversation text.
func toProviderMessages(history []session.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		out = append(out, provider.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
