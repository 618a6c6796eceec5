package mapreduce

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/cloudshipai/mrforge/internal/agent"
	"github.com/cloudshipai/mrforge/internal/checkpoint"
	"github.com/cloudshipai/mrforge/internal/dlq"
	"github.com/cloudshipai/mrforge/internal/events"
	"github.com/cloudshipai/mrforge/internal/executor"
	"github.com/cloudshipai/mrforge/internal/variables"
	"github.com/cloudshipai/mrforge/internal/workflow"
	"github.com/cloudshipai/mrforge/internal/worktree"
)

var tracer = otel.Tracer("mrforge/mapreduce")

// JobStatus is a job's terminal status, per spec.md §4.1's contract.
type JobStatus string

const (
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobInterrupted JobStatus = "interrupted"
)

// JobSummary is returned by Execute and Resume.
type JobSummary struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Pending   int       `json:"pending"`
	DLQCount  int       `json:"dlq_count"`
}

// Executor drives one job end-to-end: setup -> map -> reduce.
type Executor struct {
	Def          *workflow.Definition
	WorkflowHash string
	ParentRepo   string

	Registry    *executor.Registry
	Worktrees   *worktree.Manager
	Checkpoints *checkpoint.Store
	DLQ         *dlq.Queue
	Events      *events.Logger

	mu          sync.Mutex
	cancelled   bool
	state       *checkpoint.JobState
	pendingSave bool
	savingNow   bool
	saveWG      sync.WaitGroup
}

// New returns an Executor for def, identified by jobID.
func New(jobID string, def *workflow.Definition, workflowHash, parentRepo string, reg *executor.Registry, wt *worktree.Manager, cp *checkpoint.Store, q *dlq.Queue, ev *events.Logger) *Executor {
	return &Executor{
		Def:          def,
		WorkflowHash: workflowHash,
		ParentRepo:   parentRepo,
		Registry:     reg,
		Worktrees:    wt,
		Checkpoints:  cp,
		DLQ:          q,
		Events:       ev,
		state: &checkpoint.JobState{
			JobID:          jobID,
			WorkflowHash:   workflowHash,
			Phase:          checkpoint.PhaseSetup,
			CompletedItems: map[string]bool{},
			FailedItems:    map[string]bool{},
			PendingItems:   map[string]bool{},
			Variables:      map[string]string{},
			AgentResults:   map[string]checkpoint.AgentResultSummary{},
		},
	}
}

// Cancel flips the cooperative cancellation flag; workers observe it at
// their next suspension point.
func (e *Executor) Cancel() {
	e.mu.Lock()
	e.cancelled = true
	e.mu.Unlock()
}

func (e *Executor) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// Execute drives the job end-to-end: setup, map, reduce.
func (e *Executor) Execute(ctx context.Context, env map[string]string) (JobSummary, error) {
	ctx, span := tracer.Start(ctx, "mapreduce.execute")
	defer span.End()

	vars := variables.New()
	for k, v := range env {
		vars.SetWorkflow(k, v)
	}

	if len(e.Def.Setup) > 0 {
		if err := agent.RunSteps(ctx, e.Registry, e.ParentRepo, vars, e.Def.Setup); err != nil {
			e.emit("JobFailed", map[string]interface{}{"phase": "setup", "error": err.Error()})
			return JobSummary{JobID: e.state.JobID, Status: JobFailed}, fmt.Errorf("mapreduce: setup: %w", err)
		}
		for k, v := range vars.Snapshot() {
			e.state.Variables[k] = v
		}
	}
	e.state.Phase = checkpoint.PhaseMap
	e.checkpointNow()

	if e.Def.Mode == workflow.ModeMapReduce && e.Def.Map != nil {
		summary, err := e.runMapPhase(ctx, vars)
		if err != nil {
			return summary, err
		}
		if summary.Status == JobInterrupted {
			return summary, fmt.Errorf("mapreduce: job %s interrupted: %w", summary.JobID, context.Canceled)
		}
		if summary.Status != JobCompleted {
			return summary, fmt.Errorf("mapreduce: map phase ended with status %s", summary.Status)
		}
	}

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
	if e.Checkpoints != nil {
		_ = e.Checkpoints.Delete(e.state.JobID)
	}

	return e.summary(JobCompleted), nil
}

// runReduce binds map.results/map.successful/map.failed and runs the
// reduce phase's steps serially in the parent worktree, per spec.md §4.1.
func (e *Executor) runReduce(ctx context.Context, vars *variables.Context) error {
	if len(e.Def.Reduce) == 0 {
		return nil
	}
	vars.SetWorkflow("map.results", marshalResults(e.state.AgentResults))
	vars.SetWorkflow("map.successful", itoaCount(e.state.CompletedItems))
	vars.SetWorkflow("map.failed", itoaCount(e.state.FailedItems))
	return agent.RunSteps(ctx, e.Registry, e.ParentRepo, vars, e.Def.Reduce)
}

// rebuildVars reconstructs a workflow-tier variable context from a
// checkpoint's flattened snapshot, used by Resume to restore setup's bound
// variables without re-running setup.
func rebuildVars(snapshot map[string]string) *variables.Context {
	c := variables.New()
	for k, v := range snapshot {
		c.SetWorkflow(k, v)
	}
	return c
}

func (e *Executor) runMapPhase(ctx context.Context, vars *variables.Context) (JobSummary, error) {
	items, err := LoadItems(ctx, e.Def.Map)
	if err != nil {
		return JobSummary{JobID: e.state.JobID, Status: JobFailed}, fmt.Errorf("mapreduce: load items: %w", err)
	}
	e.state.TotalItems = len(items)
	for _, item := range items {
		e.state.PendingItems[item.ID] = true
	}
	e.checkpointNow()

	return e.runItems(ctx, items, vars)
}

// runItems fans items out across a max_parallel-bounded semaphore, per
// spec.md §4.1's concurrency model. Used both for a fresh map phase and for
// Resume's residual (pending-only) item set.
func (e *Executor) runItems(ctx context.Context, items []Item, vars *variables.Context) (JobSummary, error) {
	if len(items) == 0 {
		return e.summary(JobCompleted), nil
	}

	w := agent.New(
		agent.WithRegistry(e.Registry),
		agent.WithWorktrees(e.Worktrees),
		agent.WithEvents(e.Events),
		agent.WithParentBranch("main"),
	)

	sem := make(chan struct{}, e.Def.Map.MaxParallel)
	var wg sync.WaitGroup
	aborted := false

	// Both the abort flag and every e.state map mutation below share e.mu
	// (not a separate local mutex) so that checkpointNowLocked's snapshot
	// and the abort check below are always consistent with the same
	// critical section, per spec.md §4.1: once an item fails with
	// continue_on_failure=false, no item still queued may start. The check
	// runs after a permit is acquired, so it sees the outcome of every item
	// whose permit was released.
	for _, item := range items {
		item := item

		sem <- struct{}{}
		e.mu.Lock()
		stop := e.cancelled || aborted
		e.mu.Unlock()
		if stop {
			<-sem
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if e.isCancelled() {
				return
			}
			result := e.runItemWithRetries(ctx, w, item, vars)

			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.state.PendingItems, item.ID)
			e.state.AgentResults[item.ID] = checkpoint.AgentResultSummary{
				ItemID:        item.ID,
				Status:        string(result.Status),
				Commits:       result.Commits,
				FilesModified: result.FilesModified,
				Error:         result.Error,
			}
			if result.Status == agent.StateSuccess {
				e.state.CompletedItems[item.ID] = true
			} else {
				e.state.FailedItems[item.ID] = true
				if !e.Def.Map.ContinueOnFail {
					aborted = true
				}
			}
			e.checkpointNowLocked()
		}()
	}
	wg.Wait()

	if e.isCancelled() {
		e.checkpointNow()
		return JobSummary{JobID: e.state.JobID, Status: JobInterrupted, Pending: len(e.state.PendingItems)}, nil
	}
	if aborted {
		e.emit("JobFailed", map[string]interface{}{"phase": "map"})
		return e.summary(JobFailed), nil
	}
	return e.summary(JobCompleted), nil
}

// runItemWithRetries implements spec.md §4.1's per-item lifecycle: a fresh
// worktree is created on every attempt (inside agent.Worker.Run), attempts
// run retry_on_failure+1 times, and exhausted failures route to the DLQ
// with the full failure_history.
func (e *Executor) runItemWithRetries(ctx context.Context, w *agent.Worker, item Item, vars *variables.Context) agent.Result {
	var history []dlq.FailureDetail
	maxAttempts := e.Def.Map.RetryOnFailure + 1
	timeout := e.Def.Map.TimeoutPerAgent.AsTime()

	var last agent.Result
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = e.runOneAttempt(ctx, w, item, vars, timeout)
		if last.Status == agent.StateSuccess {
			return last
		}
		history = append(history, dlq.FailureDetail{Attempt: attempt, Error: last.Error, Timestamp: time.Now()})
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
		}
	}

	sig := last.ErrorKind
	if sig == "" {
		sig = "exhausted_retries"
	}
	entry := dlq.Entry{
		ItemID:            item.ID,
		ItemData:          marshalItem(item.Value),
		FirstAttempt:      history[0].Timestamp,
		LastAttempt:       history[len(history)-1].Timestamp,
		FailureCount:      len(history),
		FailureHistory:    history,
		ErrorSignature:    sig,
		ReprocessEligible: sig != "merge_conflict",
	}
	if e.DLQ != nil {
		_ = e.DLQ.Add(entry)
	}
	return last
}

func (e *Executor) runOneAttempt(ctx context.Context, w *agent.Worker, item Item, vars *variables.Context, timeout time.Duration) agent.Result {
	result, _ := w.RunSafely(ctx, e.state.JobID, item.ID, item.Value, e.Def.Map.AgentTemplate, timeout, vars)
	return result
}

func (e *Executor) checkpointNow() {
	e.mu.Lock()
	e.checkpointNowLocked()
	e.mu.Unlock()
}

// checkpointNowLocked implements spec.md §4.1's back-pressured checkpoint
// cadence: if a checkpoint write is already in flight, this request
// supersedes any pending one rather than queuing a second write.
func (e *Executor) checkpointNowLocked() {
	if e.Checkpoints == nil {
		return
	}
	if e.savingNow {
		e.pendingSave = true
		return
	}
	e.savingNow = true
	snapshot := cloneState(e.state)
	e.saveWG.Add(1)
	go func() {
		defer e.saveWG.Done()
		_ = e.Checkpoints.Save(snapshot)
		e.mu.Lock()
		e.savingNow = false
		again := e.pendingSave
		e.pendingSave = false
		e.mu.Unlock()
		if again {
			e.checkpointNow()
		}
	}()
}

// cloneState deep-copies the maps checkpointNowLocked hands to its save
// goroutine. e.state is mutated by concurrent item-completion goroutines
// under e.mu, but the save runs unlocked (so a slow disk write never blocks
// the map phase); a shallow `*e.state` copy would share those maps with the
// live state and race encoding/json's read against concurrent delete/insert,
// per spec.md §9's checkpoints-are-written-from-one-thread invariant.
func cloneState(s *checkpoint.JobState) *checkpoint.JobState {
	clone := *s
	clone.CompletedItems = make(map[string]bool, len(s.CompletedItems))
	for k, v := range s.CompletedItems {
		clone.CompletedItems[k] = v
	}
	clone.FailedItems = make(map[string]bool, len(s.FailedItems))
	for k, v := range s.FailedItems {
		clone.FailedItems[k] = v
	}
	clone.PendingItems = make(map[string]bool, len(s.PendingItems))
	for k, v := range s.PendingItems {
		clone.PendingItems[k] = v
	}
	clone.Variables = make(map[string]string, len(s.Variables))
	for k, v := range s.Variables {
		clone.Variables[k] = v
	}
	clone.AgentResults = make(map[string]checkpoint.AgentResultSummary, len(s.AgentResults))
	for k, v := range s.AgentResults {
		clone.AgentResults[k] = v
	}
	return &clone
}

// waitForSaves blocks until every checkpoint write spawned by
// checkpointNowLocked has finished, so deleting the checkpoint file on job
// completion can never race an in-flight write that would resurrect it.
func (e *Executor) waitForSaves() {
	e.saveWG.Wait()
}

func (e *Executor) emit(event string, meta map[string]interface{}) {
	if e.Events != nil {
		e.Events.Emit(e.state.JobID, event, meta)
	}
}

func (e *Executor) summary(status JobStatus) JobSummary {
	return JobSummary{
		JobID:     e.state.JobID,
		Status:    status,
		Completed: len(e.state.CompletedItems),
		Failed:    len(e.state.FailedItems),
		Pending:   len(e.state.PendingItems),
	}
}

func marshalItem(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func marshalResults(results map[string]checkpoint.AgentResultSummary) string {
	data, _ := json.Marshal(results)
	return string(data)
}

func itoaCount(m map[string]bool) string {
	return fmt.Sprintf("%d", len(m))
}
