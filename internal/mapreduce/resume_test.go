package mapreduce

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudshipai/mrforge/internal/checkpoint"
	"github.com/cloudshipai/mrforge/internal/workflow"
)

func TestResume_ReRunsOnlyPendingItemsAfterInterrupt(t *testing.T) {
	parent := initParentRepo(t)
	inputPath := writeItemsFile(t, parent, []map[string]interface{}{
		{"id": "a"}, {"id": "b"},
	})

	def := &workflow.Definition{
		Name: "resumable",
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     1,
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

	// Simulate a crash partway through the map phase: item "a" already
	// completed and checkpointed, item "b" still pending.
	crashed := &checkpoint.JobState{
		JobID:          "testjob",
		WorkflowHash:   "hash1",
		TotalItems:     2,
		Phase:          checkpoint.PhaseMap,
		CompletedItems: map[string]bool{"a": true},
		FailedItems:    map[string]bool{},
		PendingItems:   map[string]bool{"b": true},
		Variables:      map[string]string{},
		AgentResults:   map[string]checkpoint.AgentResultSummary{},
	}
	if err := exec.Checkpoints.Save(crashed); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	summary, err := exec.Resume(context.Background(), "testjob", ResumeOptions{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if summary.Status != JobCompleted {
		t.Fatalf("Status = %s, want completed", summary.Status)
	}
	if summary.Completed != 2 {
		t.Errorf("Completed = %d, want 2 (the pre-crash item plus the resumed residual item)", summary.Completed)
	}
	if _, err := exec.Checkpoints.Load("testjob"); err == nil {
		t.Error("expected checkpoint to be deleted after successful resume completion")
	}
	if _, err := os.Stat(filepath.Join(parent, "reduce.txt")); err != nil {
		t.Errorf("reduce phase did not run after resume: %v", err)
	}
}

func TestResume_HashMismatchFailsUnlessSkipped(t *testing.T) {
	parent := initParentRepo(t)
	inputPath := writeItemsFile(t, parent, []map[string]interface{}{{"id": "a"}})

	def := &workflow.Definition{
		Name: "resumable",
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     1,
			TimeoutPerAgent: workflow.Duration(30 * time.Second),
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: "true"},
			},
		},
	}
	exec := newTestExecutor(t, parent, def)

	stale := &checkpoint.JobState{
		JobID:          "testjob",
		WorkflowHash:   "a-different-hash",
		Phase:          checkpoint.PhaseCompleted,
		CompletedItems: map[string]bool{"a": true},
		FailedItems:    map[string]bool{},
		PendingItems:   map[string]bool{},
		Variables:      map[string]string{},
		AgentResults:   map[string]checkpoint.AgentResultSummary{},
	}
	if err := exec.Checkpoints.Save(stale); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if _, err := exec.Resume(context.Background(), "testjob", ResumeOptions{}); err != ErrHashMismatch {
		t.Fatalf("Resume error = %v, want ErrHashMismatch", err)
	}

	summary, err := exec.Resume(context.Background(), "testjob", ResumeOptions{SkipHashCheck: true})
	if err != nil {
		t.Fatalf("Resume with SkipHashCheck: %v", err)
	}
	if summary.Status != JobCompleted {
		t.Errorf("Status = %s, want completed", summary.Status)
	}
}
