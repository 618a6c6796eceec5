package mapreduce

import (
	"context"
	"fmt"

	"github.com/cloudshipai/mrforge/internal/checkpoint"
	"github.com/cloudshipai/mrforge/internal/dlq"
	"github.com/cloudshipai/mrforge/internal/variables"
)

// ResumeOptions configures Resume, per spec.md §4.8's CLI surface
// (--reprocess-failed, --skip-validation).
type ResumeOptions struct {
	ReprocessFailed bool
	SkipHashCheck   bool
}

// ErrHashMismatch is returned when a checkpoint's workflow_hash disagrees
// with the workflow currently being resumed, unless SkipHashCheck is set.
var ErrHashMismatch = fmt.Errorf("mapreduce: workflow definition changed since checkpoint")

// Resume reloads a job's checkpoint and re-enters it at its recorded phase,
// re-running only the items still pending (and, if ReprocessFailed is set,
// the items sitting in the DLQ). On successful completion the checkpoint is
// deleted, per spec.md §4.8.
func (e *Executor) Resume(ctx context.Context, jobID string, opts ResumeOptions) (JobSummary, error) {
	saved, err := e.Checkpoints.Load(jobID)
	if err != nil {
		return JobSummary{JobID: jobID, Status: JobFailed}, fmt.Errorf("mapreduce: resume: %w", err)
	}
	if !opts.SkipHashCheck && saved.WorkflowHash != e.WorkflowHash {
		return JobSummary{JobID: jobID, Status: JobFailed}, ErrHashMismatch
	}

	e.state = saved
	e.state.JobID = jobID

	if opts.ReprocessFailed && e.DLQ != nil {
		summary, rerr := e.DLQ.Reprocess(func(dlq.Entry) bool { return true }, true)
		if rerr != nil {
			return JobSummary{JobID: jobID, Status: JobFailed}, fmt.Errorf("mapreduce: reprocess dlq: %w", rerr)
		}
		for _, itemID := range summary.Removed {
			delete(e.state.FailedItems, itemID)
			e.state.PendingItems[itemID] = true
		}
	}

	vars := rebuildVars(e.state.Variables)

	switch e.state.Phase {
	case checkpoint.PhaseSetup:
		return e.Execute(ctx, e.state.Variables)
	case checkpoint.PhaseMap:
		summary, err := e.resumeMapPhase(ctx, vars)
		if err != nil {
			return summary, err
		}
		if summary.Status == JobInterrupted {
			return summary, fmt.Errorf("mapreduce: resume: job %s interrupted: %w", summary.JobID, context.Canceled)
		}
		if summary.Status != JobCompleted {
			return summary, fmt.Errorf("mapreduce: resume: map phase ended with status %s", summary.Status)
		}
		return e.finishAfterMap(ctx, vars)
	case checkpoint.PhaseReduce:
		return e.finishAfterMap(ctx, vars)
	case checkpoint.PhaseCompleted:
		_ = e.Checkpoints.Delete(jobID)
		return e.summary(JobCompleted), nil
	default:
		return JobSummary{JobID: jobID, Status: JobFailed}, fmt.Errorf("mapreduce: resume: unknown phase %q", e.state.Phase)
	}
}

// resumeMapPhase re-runs only the items recorded as still pending, rather
// than reloading and re-filtering the whole input set.
func (e *Executor) resumeMapPhase(ctx context.Context, vars *variables.Context) (JobSummary, error) {
	if e.Def.Map == nil || len(e.state.PendingItems) == 0 {
		return e.summary(JobCompleted), nil
	}
	items, err := LoadItems(ctx, e.Def.Map)
	if err != nil {
		return JobSummary{JobID: e.state.JobID, Status: JobFailed}, fmt.Errorf("mapreduce: resume: reload items: %w", err)
	}
	var residual []Item
	for _, item := range items {
		if e.state.PendingItems[item.ID] {
			residual = append(residual, item)
		}
	}
	return e.runItems(ctx, residual, vars)
}

func (e *Executor) finishAfterMap(ctx context.Context, vars *variables.Context) (JobSummary, error) {
	if e.isCancelled() {
		e.checkpointNow()
		e.waitForSaves()
		return e.summary(JobInterrupted), fmt.Errorf("mapreduce: job %s interrupted: %w", e.state.JobID, context.Canceled)
	}

	e.state.Phase = checkpoint.PhaseReduce
	e.checkpointNow()

	if err := e.runReduce(ctx, vars); err != nil {
		e.emit("JobFailed", map[string]interface{}{"phase": "reduce", "error": err.Error()})
		return JobSummary{JobID: e.state.JobID, Status: JobFailed}, fmt.Errorf("mapreduce: reduce: %w", err)
	}

	e.state.Phase = checkpoint.PhaseCompleted
	e.checkpointNow()
	e.emit("JobCompleted", nil)
	e.waitForSaves()
	_ = e.Checkpoints.Delete(e.state.JobID)
	return e.summary(JobCompleted), nil
}
