package mapreduce

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudshipai/mrforge/internal/workflow"
)

func TestPlan_ReportsResolvedItemsWithoutRunningSteps(t *testing.T) {
	dir := t.TempDir()
	inputPath := writeItemsFile(t, dir, []map[string]interface{}{
		{"id": "a"}, {"id": "b"}, {"id": "c"},
	})

	def := &workflow.Definition{
		Name: "plan-check",
		Mode: workflow.ModeMapReduce,
		Setup: []workflow.Step{
			{Kind: workflow.StepShell, Shell: "touch setup-ran.txt"},
		},
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     2,
			TimeoutPerAgent: workflow.Duration(30 * time.Second),
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: "touch agent-ran-${item.id}.txt"},
			},
		},
		Reduce: []workflow.Step{
			{Kind: workflow.StepShell, Shell: "touch reduce-ran.txt"},
		},
	}

	report, err := Plan(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if report.TotalItems != 3 {
		t.Errorf("TotalItems = %d, want 3", report.TotalItems)
	}
	if len(report.SampleItemIDs) != 3 {
		t.Errorf("SampleItemIDs = %v, want 3 entries", report.SampleItemIDs)
	}
	if report.SetupSteps != 1 || report.MapSteps != 1 || report.ReduceSteps != 1 {
		t.Errorf("step counts = %+v, want 1/1/1", report)
	}
	if report.MaxParallel != 2 {
		t.Errorf("MaxParallel = %d, want 2", report.MaxParallel)
	}

	for _, name := range []string{"setup-ran.txt", "agent-ran-a.txt", "reduce-ran.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			t.Errorf("Plan must not run any step, but %s was created", name)
		}
	}
}

func TestPlan_SamplesAreBoundedAndSequentialModeReportsZeroItems(t *testing.T) {
	dir := t.TempDir()
	items := make([]map[string]interface{}, 20)
	for i := range items {
		items[i] = map[string]interface{}{"id": i}
	}
	inputPath := writeItemsFile(t, dir, items)

	def := &workflow.Definition{
		Name: "plan-sample-bound",
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     4,
			TimeoutPerAgent: workflow.Duration(30 * time.Second),
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: "true"},
			},
		},
	}
	report, err := Plan(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if report.TotalItems != 20 {
		t.Errorf("TotalItems = %d, want 20", report.TotalItems)
	}
	if len(report.SampleItemIDs) != planSampleSize {
		t.Errorf("len(SampleItemIDs) = %d, want %d", len(report.SampleItemIDs), planSampleSize)
	}

	seqDef := &workflow.Definition{Name: "sequential-only", Mode: workflow.ModeSequential}
	seqReport, err := Plan(context.Background(), seqDef, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if seqReport.TotalItems != 0 {
		t.Errorf("sequential TotalItems = %d, want 0", seqReport.TotalItems)
	}
}
