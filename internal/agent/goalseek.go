package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudshipai/mrforge/internal/executor"
	"github.com/cloudshipai/mrforge/internal/variables"
	"github.com/cloudshipai/mrforge/internal/workflow"
)

// runGoalSeek implements the goal-seek step kind per SPEC_FULL.md §10,
// grounded on original_source's goal_seek/engine.rs: run Command, then
// Validate against the result, repeating with re-interpolated captures
// until the validator reports a score >= Threshold (or exit 0 when no
// threshold is configured) or MaxAttempts is exhausted.
func (r *stepRunner) runGoalSeek(ctx context.Context, step workflow.Step) error {
	spec := step.GoalSeek
	maxAttempts := spec.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cmd, err := variables.Interpolate(spec.Command, r.vars, step.Lax)
		if err != nil {
			return fmt.Errorf("agent: goal-seek command interpolation: %w", err)
		}
		res, err := r.registry.Dispatch(ctx, workflow.Step{Kind: workflow.StepShell}, cmd, executor.Request{
			WorkingDir: r.resolveWorkingDir(step),
			Timeout:    step.Timeout.AsTime(),
		})
		if err != nil {
			lastErr = err
			continue
		}
		if step.Capture != "" {
			parsed, err := variables.Capture(res.Stdout, step.CaptureFormat)
			if err == nil {
				r.vars.SetIteration("captures."+step.Capture, parsed)
			}
		}

		validateCmd, err := variables.Interpolate(spec.Validate, r.vars, step.Lax)
		if err != nil {
			return fmt.Errorf("agent: goal-seek validate interpolation: %w", err)
		}
		vres, err := r.registry.Dispatch(ctx, workflow.Step{Kind: workflow.StepShell}, validateCmd, executor.Request{
			WorkingDir: r.resolveWorkingDir(step),
			Timeout:    step.Timeout.AsTime(),
		})
		if err != nil {
			lastErr = err
			continue
		}

		if spec.Threshold <= 0 {
			if vres.ExitCode == 0 {
				return nil
			}
			lastErr = fmt.Errorf("agent: goal-seek validator exit %d on attempt %d", vres.ExitCode, attempt)
			continue
		}

		score, err := strconv.Atoi(strings.TrimSpace(vres.Stdout))
		if err != nil {
			lastErr = fmt.Errorf("agent: goal-seek validator score parse: %w", err)
			continue
		}
		if score >= spec.Threshold {
			return nil
		}
		lastErr = fmt.Errorf("agent: goal-seek score %d below threshold %d on attempt %d", score, spec.Threshold, attempt)
	}
	return fmt.Errorf("agent: goal-seek exhausted %d attempts: %w", maxAttempts, lastErr)
}
