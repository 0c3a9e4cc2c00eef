package proposals

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultbrain/vaultbrain/internal/toolreg"
	"github.com/vaultbrain/vaultbrain/internal/vault"
)

func newTestManager(t *testing.T, autoApply bool) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Notes"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Notes", "plan.md"),
		[]byte("line one\nline two\nline three\n"), 0o600))

	v, err := vault.New(root)
	require.NoError(t, err)
	return New(v, t.TempDir(), autoApply), root
}

func TestModifyLifecycle(t *testing.T) {
	m, root := newTestManager(t, false)

	p, err := m.Propose("sess-1", "tighten the plan", "Notes/plan.md", OpModify,
		"line one\nline 2\nline three\n")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, 1, p.LinesAdded)
	assert.Equal(t, 1, p.LinesRemoved)
	assert.Contains(t, p.Diff, "-line two")
	assert.Contains(t, p.Diff, "+line 2")

	// Pending proposals do not touch the vault.
	data, _ := os.ReadFile(filepath.Join(root, "Notes", "plan.md"))
	assert.Contains(t, string(data), "line two")

	applied, err := m.Approve(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, applied.Status)
	assert.NotEmpty(t, applied.BackupPath)
	assert.False(t, applied.AppliedAt.IsZero())

	data, _ = os.ReadFile(filepath.Join(root, "Notes", "plan.md"))
	assert.Contains(t, string(data), "line 2")

	// Backup holds the original.
	backup, err := os.ReadFile(applied.BackupPath)
	require.NoError(t, err)
	assert.Contains(t, string(backup), "line two")

	// A resolved proposal cannot be resolved again.
	_, err = m.Approve(p.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	_, err = m.Reject(p.ID)
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestRejectLeavesVaultUntouched(t *testing.T) {
	m, root := newTestManager(t, false)

	p, err := m.Propose("sess-1", "drop the plan", "Notes/plan.md", OpDelete, "")
	require.NoError(t, err)

	rejected, err := m.Reject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)

	_, err = os.Stat(filepath.Join(root, "Notes", "plan.md"))
	assert.NoError(t, err)
}

func TestProposeValidation(t *testing.T) {
	m, _ := newTestManager(t, false)

	_, err := m.Propose("s", "d", "Notes/plan.md", OpCreate, "x")
	assert.ErrorIs(t, err, ErrFileExists)

	_, err = m.Propose("s", "d", "Notes/missing.md", OpModify, "x")
	assert.ErrorIs(t, err, ErrFileMissing)

	_, err = m.Propose("s", "d", "Notes/missing.md", OpDelete, "")
	assert.ErrorIs(t, err, ErrFileMissing)

	_, err = m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutoApplySkipsDeletes(t *testing.T) {
	m, root := newTestManager(t, true)

	// Creates apply immediately.
	p, err := m.Propose("s", "new idea", "Notes/Ideas/spark.md", OpCreate, "a spark\n")
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, p.Status)
	data, err := os.ReadFile(filepath.Join(root, "Notes", "Ideas", "spark.md"))
	require.NoError(t, err)
	assert.Equal(t, "a spark\n", string(data))

	// Deletes stay pending even with auto-apply on.
	p, err = m.Propose("s", "remove plan", "Notes/plan.md", OpDelete, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	_, err = os.Stat(filepath.Join(root, "Notes", "plan.md"))
	assert.NoError(t, err)

	_, err = m.Approve(p.ID)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "Notes", "plan.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestListFiltersByStatus(t *testing.T) {
	m, _ := newTestManager(t, false)

	a, err := m.Propose("s", "edit", "Notes/plan.md", OpModify, "new\n")
	require.NoError(t, err)
	b, err := m.Propose("s", "remove", "Notes/plan.md", OpDelete, "")
	require.NoError(t, err)
	_, err = m.Reject(b.ID)
	require.NoError(t, err)

	assert.Len(t, m.List(""), 2)
	pending := m.List(StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Len(t, m.List(StatusRejected), 1)
}

func TestProposalTools(t *testing.T) {
	m, _ := newTestManager(t, false)
	r := toolreg.NewRegistry()
	require.NoError(t, RegisterTools(r, m))
	ctx := context.Background()

	out, err := r.Execute(ctx, "propose_file_change", map[string]any{
		"file_path":   "Notes/plan.md",
		"new_content": "line one\nline 2\nline three\n",
		"description": "tighten the plan",
		"session_id":  "sess-1",
	})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, StatusPending, res["status"])
	assert.Equal(t, 1, res["lines_added"])
	assert.Contains(t, res["diff_preview"], "+line 2")

	out, err = r.Execute(ctx, "propose_new_file", map[string]any{
		"file_path":   "Notes/new.md",
		"content":     "fresh\n",
		"description": "add a note",
		"session_id":  "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 6, out.(map[string]any)["content_length"])

	out, err = r.Execute(ctx, "propose_delete_file", map[string]any{
		"file_path":   "Notes/plan.md",
		"description": "obsolete",
		"session_id":  "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]any)["requires_approval"])

	_, err = r.Execute(ctx, "propose_file_change", map[string]any{
		"file_path": "Notes/plan.md", "description": "d", "session_id": "s",
	})
	assert.ErrorContains(t, err, "new_content is required")

	// Tool errors surface as messages, not panics.
	_, err = r.Execute(ctx, "propose_new_file", map[string]any{
		"file_path":   "Notes/plan.md",
		"content":     "x",
		"description": "dup",
		"session_id":  "s",
	})
	assert.ErrorIs(t, err, ErrFileExists)
}
