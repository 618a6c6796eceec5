package mapreduce

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/cloudshipai/mrforge/internal/checkpoint"
	"github.com/cloudshipai/mrforge/internal/dlq"
	"github.com/cloudshipai/mrforge/internal/executor"
	"github.com/cloudshipai/mrforge/internal/workflow"
	"github.com/cloudshipai/mrforge/internal/worktree"
)

func initParentRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func writeItemsFile(t *testing.T, dir string, items []map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(dir, "items.json")
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestExecutor(t *testing.T, parent string, def *workflow.Definition) *Executor {
	t.Helper()
	m := worktree.New(parent, worktree.WithSessionsRoot(filepath.Join(parent, ".sessions")))
	cp := checkpoint.New(afero.NewMemMapFs(), "/checkpoints")
	q := dlq.New(afero.NewMemMapFs(), "/dlq", "testjob")
	reg := executor.NewRegistry()
	return New("testjob", def, "hash1", parent, reg, m, cp, q, nil)
}

func TestExecutor_HappyPathMapReduce(t *testing.T) {
	parent := initParentRepo(t)
	inputPath := writeItemsFile(t, parent, []map[string]interface{}{
		{"id": "a"}, {"id": "b"}, {"id": "c"},
	})

	def := &workflow.Definition{
		Name: "happy-path",
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     2,
			TimeoutPerAgent: workflow.Duration(30 * time.Second),
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: "echo ${item.id} > out-${item.id}.txt", CommitRequired: true, AutoCommit: true, CommitMessage: "agent ${item.id}"},
			},
		},
		Reduce: []workflow.Step{
			{Kind: workflow.StepShell, Shell: "echo done > reduce.txt"},
		},
	}

	exec := newTestExecutor(t, parent, def)
	summary, err := exec.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.Status != JobCompleted {
		t.Fatalf("Status = %s, want completed", summary.Status)
	}
	if summary.Completed != 3 {
		t.Errorf("Completed = %d, want 3", summary.Completed)
	}
	if summary.Failed != 0 {
		t.Errorf("Failed = %d, want 0", summary.Failed)
	}
	if _, err := os.Stat(filepath.Join(parent, "reduce.txt")); err != nil {
		t.Errorf("reduce phase did not run in parent worktree: %v", err)
	}
}

func TestExecutor_EmptyInputCompletesImmediately(t *testing.T) {
	parent := initParentRepo(t)
	inputPath := writeItemsFile(t, parent, []map[string]interface{}{})

	def := &workflow.Definition{
		Name: "empty",
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     2,
			TimeoutPerAgent: workflow.Duration(30 * time.Second),
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: "true"},
			},
		},
	}

	exec := newTestExecutor(t, parent, def)
	summary, err := exec.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.Status != JobCompleted {
		t.Fatalf("Status = %s, want completed", summary.Status)
	}
	if summary.Completed != 0 || summary.Failed != 0 {
		t.Errorf("expected zero completed/failed, got completed=%d failed=%d", summary.Completed, summary.Failed)
	}
}

func TestExecutor_ExhaustedRetriesRouteToDLQ(t *testing.T) {
	parent := initParentRepo(t)
	inputPath := writeItemsFile(t, parent, []map[string]interface{}{{"id": "bad"}})

	def := &workflow.Definition{
		Name: "always-fails",
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     1,
			TimeoutPerAgent: workflow.Duration(10 * time.Second),
			RetryOnFailure:  1,
			ContinueOnFail:  true,
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: "exit 1"},
			},
		},
	}

	fs := afero.NewMemMapFs()
	m := worktree.New(parent, worktree.WithSessionsRoot(filepath.Join(parent, ".sessions")))
	cp := checkpoint.New(fs, "/checkpoints")
	q := dlq.New(fs, "/dlq", "testjob")
	reg := executor.NewRegistry()
	exec := New("testjob", def, "hash1", parent, reg, m, cp, q, nil)

	summary, err := exec.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", summary.Failed)
	}

	entries, err := q.List(nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", len(entries))
	}
	if entries[0].FailureCount != 2 {
		t.Errorf("FailureCount = %d, want 2 (retry_on_failure=1 -> 2 attempts)", entries[0].FailureCount)
	}
}

func TestExecutor_AbortsOnFailureWithoutContinueOnFail(t *testing.T) {
	parent := initParentRepo(t)
	inputPath := writeItemsFile(t, parent, []map[string]interface{}{{"id": "x"}})

	def := &workflow.Definition{
		Name: "strict",
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     1,
			TimeoutPerAgent: workflow.Duration(10 * time.Second),
			ContinueOnFail:  false,
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: "exit 1"},
			},
		},
	}

	exec := newTestExecutor(t, parent, def)
	summary, err := exec.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected Execute to return an error")
	}
	if summary.Status != JobFailed {
		t.Errorf("Status = %s, want failed", summary.Status)
	}
}

// TestExecutor_AbortStopsPendingItemsFromStarting pins spec.md §4.1's
// tie-break: once an item fails with continue_on_failure=false, items still
// queued must never start. max_parallel=1 forces serial dispatch, so any
// AgentResults entry for "b" or "c" proves the fan-out loop kept spawning
// after the abort condition was already set by item "a".
func TestExecutor_AbortStopsPendingItemsFromStarting(t *testing.T) {
	parent := initParentRepo(t)
	inputPath := writeItemsFile(t, parent, []map[string]interface{}{
		{"id": "a"}, {"id": "b"}, {"id": "c"},
	})

	def := &workflow.Definition{
		Name: "abort-stops-pending",
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     1,
			TimeoutPerAgent: workflow.Duration(10 * time.Second),
			ContinueOnFail:  false,
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: "exit 1"},
			},
		},
	}

	exec := newTestExecutor(t, parent, def)
	summary, err := exec.Execute(context.Background(), nil)
	if err == nil {
		t.Fatal("expected Execute to return an error")
	}
	if summary.Status != JobFailed {
		t.Errorf("Status = %s, want failed", summary.Status)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1 (b and c must never start)", summary.Failed)
	}
	if len(exec.state.AgentResults) != 1 {
		t.Errorf("AgentResults has %d entries, want 1 (b and c must never be dispatched)", len(exec.state.AgentResults))
	}
	if _, ok := exec.state.AgentResults["a"]; !ok {
		t.Error("expected item a's result to be recorded")
	}
	if len(exec.state.PendingItems) != 2 {
		t.Errorf("PendingItems has %d entries, want 2 (b and c stay pending)", len(exec.state.PendingItems))
	}
}
