// Package worktree implements the Worktree Manager: per-agent isolated git
// worktrees pinned to a dedicated branch, merge-back-to-parent under a
// mutex, and mandatory cleanup on every exit path. Grounded on
// internal/coding/workspace.go's WorkspaceManager (functional options,
// mutex-guarded session map, CleanupPolicy) generalized from ad hoc
// directories to real `git worktree` sessions.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrMergeConflict is returned when merging an agent branch into the parent
// fails due to a conflicting change; the caller treats this as agent failure.
var ErrMergeConflict = errors.New("worktree: merge conflict")

// CleanupPolicy names when a session's backing directory is reclaimed,
// mirrored from the teacher's CleanupPolicy enum. The Manager stores the
// configured policy but does not consult it: CleanupSession always removes
// the session it is called for.
type CleanupPolicy string

const (
	CleanupOnSessionEnd CleanupPolicy = "on_session_end"
	CleanupOnSuccess    CleanupPolicy = "on_success"
	CleanupManual       CleanupPolicy = "manual"
)

// Session is one isolated worktree owned exclusively by one agent.
type Session struct {
	Name      string    `json:"name"`
	Branch    string    `json:"branch"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	CleanedUp bool      `json:"cleaned_up"`
}

// GitCredentials carries an optional HTTPS token and username, grounded on
// internal/coding/git_credentials.go. When a token is set, git commands run
// with interactive prompting disabled and the token is redacted from any
// error output; the token itself is not passed to git.
type GitCredentials struct {
	Token    string
	Username string
}

// HasToken reports whether credentials carry an HTTPS token.
func (c GitCredentials) HasToken() bool { return c.Token != "" }

// Manager creates/destroys isolated worktree sessions rooted under a single
// parent repository, and is safe to call concurrently from multiple agents.
type Manager struct {
	parentRepo  string
	sessionsRoot string
	policy      CleanupPolicy
	creds       GitCredentials

	mu       sync.RWMutex
	sessions map[string]*Session

	mergeMu sync.Mutex // serializes merges into the parent worktree
}

// Option configures a Manager, matching the teacher's WorkspaceManagerOption idiom.
type Option func(*Manager)

// WithSessionsRoot overrides the directory new session worktrees are created under.
func WithSessionsRoot(root string) Option {
	return func(m *Manager) { m.sessionsRoot = root }
}

// WithCleanupPolicy overrides the default cleanup policy.
func WithCleanupPolicy(p CleanupPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithGitCredentials sets the credentials whose token is redacted from git
// error output (see GitCredentials).
func WithGitCredentials(c GitCredentials) Option {
	return func(m *Manager) { m.creds = c }
}

// New returns a Manager rooted at parentRepo, a clean checkout of the base repository.
func New(parentRepo string, opts ...Option) *Manager {
	m := &Manager{
		parentRepo:   parentRepo,
		sessionsRoot: filepath.Join(parentRepo, ".mrforge", "sessions"),
		policy:       CleanupOnSessionEnd,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession creates a new worktree pinned to a unique branch named
// agent/<jobID>/<itemID>/<uuid> (see DESIGN.md's Open Question resolution:
// UUID naming over the teacher's timestamp scheme, since map-phase agents
// are created concurrently and timestamps alone are not collision-safe).
func (m *Manager) CreateSession(ctx context.Context, jobID, itemID string) (*Session, error) {
	name := fmt.Sprintf("%s-%s-%s", jobID, itemID, uuid.NewString())
	branch := fmt.Sprintf("agent/%s/%s/%s", jobID, itemID, uuid.NewString())
	path := filepath.Join(m.sessionsRoot, name)

	if err := os.MkdirAll(m.sessionsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("worktree: prepare sessions root: %w", err)
	}
	if _, err := m.run(ctx, m.parentRepo, "worktree", "add", "-b", branch, path, "HEAD"); err != nil {
		return nil, fmt.Errorf("worktree: create session: %w", err)
	}

	sess := &Session{Name: name, Branch: branch, Path: path, CreatedAt: time.Now()}
	m.mu.Lock()
	m.sessions[name] = sess
	m.mu.Unlock()
	return sess, nil
}

// MergeSession merges sess's branch into targetBranch in the parent
// worktree under the merge mutex, per spec.md §4.4's merge algorithm.
func (m *Manager) MergeSession(ctx context.Context, sess *Session, targetBranch string) error {
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	if _, err := m.run(ctx, m.parentRepo, "fetch", m.parentRepo, sess.Branch+":"+sess.Branch+"-merge"); err != nil {
		return fmt.Errorf("worktree: fetch agent branch: %w", err)
	}
	if _, err := m.run(ctx, m.parentRepo, "checkout", targetBranch); err != nil {
		return fmt.Errorf("worktree: checkout target: %w", err)
	}
	_, err := m.run(ctx, m.parentRepo, "merge", "--no-ff", "-m", "mrforge: merge "+sess.Branch, sess.Branch+"-merge")
	if err != nil {
		_, _ = m.run(ctx, m.parentRepo, "merge", "--abort")
		return fmt.Errorf("%w: %v", ErrMergeConflict, err)
	}
	return nil
}

// CleanupSession deletes the worktree directory and its pinned branch. If
// deletion fails, the session is left marked not-cleaned-up so a subsequent
// ListSessions call surfaces it as reapable, per spec.md §4.4.
func (m *Manager) CleanupSession(ctx context.Context, name string, force bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("worktree: unknown session %q", name)
	}

	args := []string{"worktree", "remove", sess.Path}
	if force {
		args = append(args, "--force")
	}
	if _, err := m.run(ctx, m.parentRepo, args...); err != nil {
		return fmt.Errorf("worktree: cleanup pending, will retry on next reap: %w", err)
	}
	_, _ = m.run(ctx, m.parentRepo, "branch", "-D", sess.Branch)

	m.mu.Lock()
	sess.CleanedUp = true
	m.mu.Unlock()
	return nil
}

// ListSessions returns the sessions this Manager created and has not marked
// CleanedUp, keeping each one that `git worktree list` reports or whose
// directory still exists. Worktrees that git lists but this Manager did not
// create are not returned.
func (m *Manager) ListSessions(ctx context.Context) ([]*Session, error) {
	out, err := m.run(ctx, m.parentRepo, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("worktree: list: %w", err)
	}
	live := map[string]bool{}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			live[strings.TrimPrefix(line, "worktree ")] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Session
	seen := map[string]bool{}
	for _, sess := range m.sessions {
		if sess.CleanedUp {
			continue
		}
		if live[sess.Path] {
			result = append(result, sess)
			seen[sess.Path] = true
			continue
		}
		if _, err := os.Stat(sess.Path); err == nil && !seen[sess.Path] {
			result = append(result, sess)
			seen[sess.Path] = true
		}
	}
	return result, nil
}

func (m *Manager) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if m.creds.HasToken() {
		cmd.Env = append(os.Environ(), "GIT_ASKPASS=", "GIT_TERMINAL_PROMPT=0")
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, redact(string(out), m.creds))
	}
	return string(out), nil
}

// redact strips any injected token from command output before it reaches an
// error message, grounded on internal/coding/git_credentials.go's RedactError.
func redact(s string, creds GitCredentials) string {
	if creds.Token != "" {
		s = strings.ReplaceAll(s, creds.Token, "***")
	}
	return s
}
