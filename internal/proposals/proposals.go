// Package proposals manages file change proposals against the vault.
// Changes never hit disk directly; they sit pending until approved,
// and originals are backed up before being overwritten or removed.
package proposals

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultbrain/vaultbrain/internal/vault"
)

var (
	ErrNotFound        = errors.New("proposal not found")
	ErrAlreadyResolved = errors.New("proposal already resolved")
	ErrFileExists      = errors.New("file already exists")
	ErrFileMissing     = errors.New("file not found")
)

// backupMaxAge is how long applied-change backups are kept around.
const backupMaxAge = 30 * 24 * time.Hour

// Operation is the kind of change a proposal describes.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusApplied  Status = "applied"
)

// Proposal is one file change awaiting review.
type Proposal struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	Description     string    `json:"description"`
	Status          Status    `json:"status"`
	FilePath        string    `json:"file_path"`
	Operation       Operation `json:"operation"`
	OriginalContent string    `json:"original_content,omitempty"`
	ProposedContent string    `json:"proposed_content,omitempty"`
	Diff            string    `json:"diff,omitempty"`
	LinesAdded      int       `json:"lines_added"`
	LinesRemoved    int       `json:"lines_removed"`
	BackupPath      string    `json:"backup_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	AppliedAt       time.Time `json:"applied_at,omitzero"`
}

// Manager tracks pending proposals and applies approved ones.
type Manager struct {
	mu        sync.Mutex
	vault     *vault.Vault
	backupDir string
	autoApply bool
	proposals map[string]*Proposal
}

// New creates a proposal manager over the given vault. When autoApply is
// set, create and modify proposals apply immediately; deletes always wait
// for explicit approval.
func New(v *vault.Vault, backupDir string, autoApply bool) *Manager {
	return &Manager{
		vault:     v,
		backupDir: backupDir,
		autoApply: autoApply,
		proposals: make(map[string]*Proposal),
	}
}

// Propose records a new file change. For modify and delete the file must
// exist; for create it must not. Modify proposals carry a unified diff.
func (m *Manager) Propose(sessionID, description, filePath string, op Operation, newContent string) (Proposal, error) {
	abs, err := m.vault.Resolve(filePath)
	if err != nil {
		return Proposal{}, err
	}

	p := &Proposal{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Description:     description,
		Status:          StatusPending,
		FilePath:        filePath,
		Operation:       op,
		ProposedContent: newContent,
		CreatedAt:       time.Now().UTC(),
	}

	switch op {
	case OpCreate:
		if _, err := os.Stat(abs); err == nil {
			return Proposal{}, fmt.Errorf("%w: %s", ErrFileExists, filePath)
		}
	case OpModify, OpDelete:
		data, err := os.ReadFile(abs)
		if err != nil {
			return Proposal{}, fmt.Errorf("%w: %s", ErrFileMissing, filePath)
		}
		p.OriginalContent = string(data)
		if op == OpModify {
			p.Diff, p.LinesAdded, p.LinesRemoved = unifiedDiff(p.OriginalContent, newContent)
		}
	default:
		return Proposal{}, fmt.Errorf("unknown operation: %s", op)
	}

	m.mu.Lock()
	m.proposals[p.ID] = p
	m.mu.Unlock()

	if m.autoApply && op != OpDelete {
		return m.Approve(p.ID)
	}
	slog.Info("proposal created", "id", p.ID, "operation", op, "path", filePath)
	return *p, nil
}

// Get returns a proposal by id.
func (m *Manager) Get(id string) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *p, nil
}

// List returns proposals newest first, optionally filtered by status.
func (m *Manager) List(status Status) []Proposal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Approve applies a pending proposal to the vault, backing up the
// original for modify and delete.
func (m *Manager) Approve(id string) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status != StatusPending {
		return Proposal{}, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, p.Status)
	}
	p.Status = StatusApproved

	if err := m.apply(p); err != nil {
		return Proposal{}, err
	}
	p.Status = StatusApplied
	p.AppliedAt = time.Now().UTC()
	slog.Info("proposal applied", "id", p.ID, "operation", p.Operation, "path", p.FilePath)
	return *p, nil
}

// Reject marks a pending proposal as rejected. The vault is untouched.
func (m *Manager) Reject(id string) (Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.Status != StatusPending {
		return Proposal{}, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, p.Status)
	}
	p.Status = StatusRejected
	slog.Info("proposal rejected", "id", p.ID, "path", p.FilePath)
	return *p, nil
}

func (m *Manager) apply(p *Proposal) error {
	abs, err := m.vault.Resolve(p.FilePath)
	if err != nil {
		return err
	}

	if p.Operation == OpModify || p.Operation == OpDelete {
		backup, err := m.backup(p.FilePath, abs)
		if err != nil {
			return fmt.Errorf("backup %s: %w", p.FilePath, err)
		}
		p.BackupPath = backup
	}

	switch p.Operation {
	case OpCreate:
		if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
			return fmt.Errorf("apply %s: %w", p.FilePath, err)
		}
		fallthrough
	case OpModify:
		if err := os.WriteFile(abs, []byte(p.ProposedContent), 0o600); err != nil {
			return fmt.Errorf("apply %s: %w", p.FilePath, err)
		}
	case OpDelete:
		if err := os.Remove(abs); err != nil {
			return fmt.Errorf("apply %s: %w", p.FilePath, err)
		}
	}
	return nil
}

// backup copies the current file into backupDir/<timestamp>/<path>.
func (m *Manager) backup(rel, abs string) (string, error) {
	m.cleanupOldBackups()

	dir := filepath.Join(m.backupDir, time.Now().Format("20060102_150405"))
	dst := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", err
	}
	if err := copyFile(abs, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (m *Manager) cleanupOldBackups() {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-backupMaxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		stamp, err := time.ParseInLocation("20060102_150405", e.Name(), time.Local)
		if err != nil {
			continue
		}
		if stamp.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(m.backupDir, e.Name())); err != nil {
				slog.Warn("backup cleanup failed", "dir", e.Name(), "error", err)
			}
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
