package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultbrain/vaultbrain/internal/provider"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.GetOrCreate(ctx, "", "anthropic", "claude-test")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "anthropic", created.Provider)

	// Same id comes back untouched.
	again, err := s.GetOrCreate(ctx, created.ID, "openai", "other")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "anthropic", again.Provider)

	// Unknown explicit id is created with that id.
	explicit, err := s.GetOrCreate(ctx, "sess-42", "openai", "gpt-test")
	require.NoError(t, err)
	assert.Equal(t, "sess-42", explicit.ID)
}

func TestSaveMessageAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreate(ctx, "", "anthropic", "claude-test")
	require.NoError(t, err)

	_, err = s.SaveMessage(ctx, Message{SessionID: sess.ID, Role: "user", Content: "hi"})
	require.NoError(t, err)

	id, err := s.SaveMessage(ctx, Message{
		SessionID: sess.ID,
		Role:      "assistant",
		Content:   "checking your vault",
		ToolCalls: []provider.ToolCall{
			{ID: "t1", Name: "search_vault", Input: map[string]any{"query": "gtd"}},
		},
		ToolResults: []provider.ToolResult{
			{ToolCallID: "t1", Content: "3 notes found"},
		},
		Usage: &provider.Usage{InputTokens: 10, OutputTokens: 20},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	history, err := s.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, "user", history[0].Role)
	assistant := history[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "search_vault", assistant.ToolCalls[0].Name)
	assert.Equal(t, "gtd", assistant.ToolCalls[0].Input["query"])
	require.Len(t, assistant.ToolResults, 1)
	require.NotNil(t, assistant.Usage)
	assert.Equal(t, 10, assistant.Usage.InputTokens)
}

func TestListDeleteTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.GetOrCreate(ctx, "", "anthropic", "m")
	require.NoError(t, err)
	b, err := s.GetOrCreate(ctx, "", "openai", "m")
	require.NoError(t, err)

	// Touch b so it sorts first.
	_, err = s.SaveMessage(ctx, Message{SessionID: b.ID, Role: "user", Content: "x"})
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)

	require.NoError(t, s.SetTitle(ctx, a.ID, "Garden notes"))
	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Garden notes", got.Title)

	require.NoError(t, s.Delete(ctx, a.ID))
	_, err = s.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, a.ID), ErrNotFound)

	history, err := s.History(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAddInjectedSkills(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreate(ctx, "", "anthropic", "m")
	require.NoError(t, err)
	assert.Empty(t, sess.InjectedSkills)

	require.NoError(t, s.AddInjectedSkills(ctx, sess.ID, []string{"weekly-review"}))
	// Duplicates collapse, new ids append.
	require.NoError(t, s.AddInjectedSkills(ctx, sess.ID, []string{"weekly-review", "first-principles"}))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly-review", "first-principles"}, got.InjectedSkills)

	assert.ErrorIs(t, s.AddInjectedSkills(ctx, "nope", []string{"x"}), ErrNotFound)
	assert.NoError(t, s.AddInjectedSkills(ctx, sess.ID, nil))
}

func TestConcurrentWritesOneSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreate(ctx, "", "anthropic", "m")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.SaveMessage(ctx, Message{
				SessionID: sess.ID,
				Role:      "user",
				Content:   fmt.Sprintf("message %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := s.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 20)
}
