package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudshipai/mrforge/internal/commit"
	"github.com/cloudshipai/mrforge/internal/events"
	"github.com/cloudshipai/mrforge/internal/executor"
	"github.com/cloudshipai/mrforge/internal/variables"
	"github.com/cloudshipai/mrforge/internal/workflow"
	"github.com/cloudshipai/mrforge/internal/worktree"
)

// Worker executes one (item, template) pair inside its own worktree
// session, never leaking the session on any exit path.
type Worker struct {
	Registry     *executor.Registry
	Worktrees    *worktree.Manager
	Events       *events.Logger
	ParentBranch string
}

// Option configures a Worker, matching pkg/harness/executor.go's
// functional-options construction style.
type Option func(*Worker)

func WithRegistry(r *executor.Registry) Option    { return func(w *Worker) { w.Registry = r } }
func WithWorktrees(m *worktree.Manager) Option    { return func(w *Worker) { w.Worktrees = m } }
func WithEvents(l *events.Logger) Option          { return func(w *Worker) { w.Events = l } }
func WithParentBranch(branch string) Option       { return func(w *Worker) { w.ParentBranch = branch } }

// New returns a Worker configured by opts.
func New(opts ...Option) *Worker {
	w := &Worker{ParentBranch: "main"}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) emit(correlationID, event string, meta map[string]interface{}) {
	if w.Events != nil {
		w.Events.Emit(correlationID, event, meta)
	}
}

// Run executes one attempt of template against item inside a freshly
// created worktree session, merging the branch back to the parent on
// success. The top-level per-item retry loop (re-running Run with a fresh
// worktree) belongs to the MapReduce Executor, per spec.md §4.1's pseudocode.
// base supplies the workflow-tier variables bound during setup (pass nil for
// an empty one); it is never mutated, only cloned, so concurrent agents each
// get an isolated context per spec.md §4.3.
func (w *Worker) Run(ctx context.Context, jobID, itemID string, item interface{}, template []workflow.Step, timeout time.Duration, base *variables.Context) (Result, error) {
	start := time.Now()
	w.emit(jobID, "AgentStarted", map[string]interface{}{"item_id": itemID})

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sess, err := w.Worktrees.CreateSession(ctx, jobID, itemID)
	if err != nil {
		result := Result{ItemID: itemID, Status: StateFailed, Error: err.Error(), ErrorKind: "worktree_creation_failed", Duration: time.Since(start)}
		w.emit(jobID, "AgentFailed", map[string]interface{}{"item_id": itemID, "error": err.Error()})
		return result, err
	}
	// Mandatory cleanup on every exit path, including panics.
	defer func() {
		_ = w.Worktrees.CleanupSession(context.Background(), sess.Name, true)
	}()

	validator := commit.New(sess.Path)
	headBefore, err := validator.Head(ctx)
	if err != nil {
		result := Result{ItemID: itemID, Status: StateFailed, Error: err.Error(), Duration: time.Since(start), WorktreePath: sess.Path, BranchName: sess.Branch}
		return result, err
	}

	varCtx := variables.New()
	if base != nil {
		varCtx = base.Clone()
	}
	if err := variables.FlattenItem(varCtx, itemID, item); err != nil {
		result := Result{ItemID: itemID, Status: StateFailed, Error: err.Error(), Duration: time.Since(start), WorktreePath: sess.Path, BranchName: sess.Branch}
		return result, err
	}

	runner := &stepRunner{
		registry:  w.Registry,
		validator: validator,
		dir:       sess.Path,
		vars:      varCtx,
	}

	var stepErr error
	for i, step := range template {
		if ctx.Err() != nil {
			stepErr = ctx.Err()
			break
		}
		if stepErr = runner.runStep(ctx, step); stepErr != nil {
			w.emit(jobID, "AgentStepFailed", map[string]interface{}{"item_id": itemID, "step_index": i, "error": stepErr.Error()})
			break
		}
	}

	headAfter, _ := validator.Head(ctx)
	commits, _ := validator.CommitsInRange(ctx, headBefore, headAfter)
	files, _ := validator.FilesTouched(ctx, headBefore, headAfter)

	result := Result{
		ItemID:        itemID,
		Commits:       commits,
		FilesModified: files,
		Duration:      time.Since(start),
		WorktreePath:  sess.Path,
		BranchName:    sess.Branch,
	}

	if stepErr != nil {
		if ctx.Err() != nil {
			result.Status = StateTimeout
		} else {
			result.Status = StateFailed
		}
		result.Error = stepErr.Error()
		w.emit(jobID, "AgentFailed", map[string]interface{}{"item_id": itemID, "error": stepErr.Error()})
		return result, stepErr
	}

	if err := w.Worktrees.MergeSession(ctx, sess, w.ParentBranch); err != nil {
		result.Status = StateFailed
		result.Error = err.Error()
		result.ErrorKind = "merge_conflict"
		w.emit(jobID, "AgentFailed", map[string]interface{}{"item_id": itemID, "error": err.Error()})
		return result, err
	}

	result.Status = StateSuccess
	w.emit(jobID, "AgentSucceeded", map[string]interface{}{"item_id": itemID})
	return result, nil
}

// panic guard: a worker whose host goroutine panics is reported as Failed
// with error_signature "agent_crashed" per spec.md §4.1's tie-break.
func (w *Worker) RunSafely(ctx context.Context, jobID, itemID string, item interface{}, template []workflow.Step, timeout time.Duration, base *variables.Context) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{ItemID: itemID, Status: StateFailed, Error: fmt.Sprintf("%v", r), ErrorKind: "agent_crashed"}
			err = fmt.Errorf("agent: crashed: %v", r)
		}
	}()
	return w.Run(ctx, jobID, itemID, item, template, timeout, base)
}
