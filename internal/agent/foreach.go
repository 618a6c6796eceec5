package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cloudshipai/mrforge/internal/variables"
	"github.com/cloudshipai/mrforge/internal/workflow"
)

// runForeach implements the foreach step kind, grounded on
// internal/workflows/runtime/foreach_executor.go's sequential-vs-bounded-
// concurrent iteration. Per spec.md §9's Open Question resolution, a
// foreach iteration is treated as an atomic unit for the outer retry
// policy: a failure inside one iteration fails the foreach step as a whole
// rather than being retried per-iteration by the caller's step.Retry.
func (r *stepRunner) runForeach(ctx context.Context, step workflow.Step) error {
	spec := step.Foreach

	itemsJSON, err := variables.Interpolate(spec.ItemsExpr, r.vars, true)
	if err != nil {
		return fmt.Errorf("agent: foreach items interpolation: %w", err)
	}
	var items []interface{}
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return fmt.Errorf("agent: foreach items must be a JSON array: %w", err)
	}

	if spec.MaxConcurrency <= 1 {
		return r.runForeachSequential(ctx, items, spec.Steps)
	}
	return r.runForeachConcurrent(ctx, items, spec.Steps, spec.MaxConcurrency)
}

func (r *stepRunner) runForeachSequential(ctx context.Context, items []interface{}, steps []workflow.Step) error {
	for i, item := range items {
		iterCtx := r.vars.Clone()
		iterCtx.SetIteration("foreach.index", fmt.Sprintf("%d", i))
		if err := variables.FlattenItem(iterCtx, fmt.Sprintf("%d", i), item); err != nil {
			return err
		}
		sub := &stepRunner{registry: r.registry, validator: r.validator, dir: r.dir, vars: iterCtx}
		for _, step := range steps {
			if err := sub.runStep(ctx, step); err != nil {
				return fmt.Errorf("agent: foreach iteration %d: %w", i, err)
			}
		}
	}
	return nil
}

// runForeachConcurrent bounds parallelism with a semaphore, mirroring
// ForeachExecutor.executeConcurrent's `sem := make(chan struct{}, n)` pattern.
func (r *stepRunner) runForeachConcurrent(ctx context.Context, items []interface{}, steps []workflow.Step, maxConcurrency int) error {
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	errCh := make(chan error, len(items))

	for i, item := range items {
		i, item := i, item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			iterCtx := r.vars.Clone()
			iterCtx.SetIteration("foreach.index", fmt.Sprintf("%d", i))
			if err := variables.FlattenItem(iterCtx, fmt.Sprintf("%d", i), item); err != nil {
				errCh <- err
				return
			}
			sub := &stepRunner{registry: r.registry, validator: r.validator, dir: r.dir, vars: iterCtx}
			for _, step := range steps {
				if err := sub.runStep(ctx, step); err != nil {
					errCh <- fmt.Errorf("agent: foreach iteration %d: %w", i, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}
