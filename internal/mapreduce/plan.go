package mapreduce

import (
	"context"
	"fmt"

	"github.com/cloudshipai/mrforge/internal/workflow"
)

// planSampleSize bounds how many resolved item ids PlanReport carries, per
// the Rust original's dry_run sample_size knob (dry_run/types.rs).
const planSampleSize = 10

// PlanReport is Plan's dry-run result: a summary of what a real Execute
// would do, without running any step or spawning any agent.
type PlanReport struct {
	JobName       string   `json:"job_name"`
	Mode          string   `json:"mode"`
	SetupSteps    int      `json:"setup_steps"`
	MapSteps      int      `json:"map_steps"`
	ReduceSteps   int      `json:"reduce_steps"`
	MaxParallel   int      `json:"max_parallel,omitempty"`
	TotalItems    int      `json:"total_items"`
	SampleItemIDs []string `json:"sample_item_ids,omitempty"`
}

// Plan resolves a workflow's map-phase input source and json_path query —
// the same LoadItems path Execute uses — and reports the resolved item
// count and a sample of item ids, without running setup/map/reduce steps or
// creating any worktree. Grounded on the Rust original's
// dry_run/input_validator.rs (`validate_input_source`/`load_work_items`),
// one of SPEC_FULL.md §10's supplemented features, scaled down to what a Go
// CLI's `run --dry-run` needs: authoring feedback before a real run commits
// resources.
func Plan(ctx context.Context, def *workflow.Definition, env map[string]string) (PlanReport, error) {
	report := PlanReport{
		JobName:     def.Name,
		Mode:        string(def.Mode),
		SetupSteps:  len(def.Setup),
		ReduceSteps: len(def.Reduce),
	}
	if def.Mode != workflow.ModeMapReduce || def.Map == nil {
		return report, nil
	}
	report.MapSteps = len(def.Map.AgentTemplate)
	report.MaxParallel = def.Map.MaxParallel

	items, err := LoadItems(ctx, def.Map)
	if err != nil {
		return report, fmt.Errorf("mapreduce: plan: %w", err)
	}
	report.TotalItems = len(items)

	n := len(items)
	if n > planSampleSize {
		n = planSampleSize
	}
	report.SampleItemIDs = make([]string, n)
	for i := 0; i < n; i++ {
		report.SampleItemIDs[i] = items[i].ID
	}
	return report, nil
}
