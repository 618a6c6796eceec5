package agent

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

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

func TestWorker_Run_HappyPath(t *testing.T) {
	parent := initParentRepo(t)
	m := worktree.New(parent, worktree.WithSessionsRoot(filepath.Join(parent, ".sessions")))
	w := New(WithRegistry(executor.NewRegistry()), WithWorktrees(m), WithParentBranch("main"))

	template := []workflow.Step{
		{Kind: workflow.StepShell, Shell: "echo ${item.id}", CommitRequired: false},
	}
	result, err := w.Run(context.Background(), "job1", "1", map[string]interface{}{"id": "1"}, template, 10*time.Second, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StateSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}
}

func TestWorker_Run_CommitRequiredWithoutChangeFails(t *testing.T) {
	parent := initParentRepo(t)
	m := worktree.New(parent, worktree.WithSessionsRoot(filepath.Join(parent, ".sessions")))
	w := New(WithRegistry(executor.NewRegistry()), WithWorktrees(m), WithParentBranch("main"))

	template := []workflow.Step{
		{Kind: workflow.StepShell, Shell: "true", CommitRequired: true, AutoCommit: false},
	}
	result, err := w.Run(context.Background(), "job1", "2", map[string]interface{}{"id": "2"}, template, 10*time.Second, nil)
	if err == nil {
		t.Fatal("expected commit-required failure")
	}
	if result.Status != StateFailed {
		t.Errorf("Status = %s, want failed", result.Status)
	}
}

func TestWorker_Run_AutoCommitSatisfiesRequirement(t *testing.T) {
	parent := initParentRepo(t)
	m := worktree.New(parent, worktree.WithSessionsRoot(filepath.Join(parent, ".sessions")))
	w := New(WithRegistry(executor.NewRegistry()), WithWorktrees(m), WithParentBranch("main"))

	template := []workflow.Step{
		{Kind: workflow.StepShell, Shell: "echo hi > out.txt", CommitRequired: true, AutoCommit: true, CommitMessage: "auto"},
	}
	result, err := w.Run(context.Background(), "job1", "3", map[string]interface{}{"id": "3"}, template, 10*time.Second, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != StateSuccess {
		t.Errorf("Status = %s, want success", result.Status)
	}
	if len(result.Commits) == 0 {
		t.Error("expected at least one commit recorded")
	}
}
