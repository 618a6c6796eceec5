package agent

import (
	"context"
	"fmt"

	"github.com/cloudshipai/mrforge/internal/commit"
	"github.com/cloudshipai/mrforge/internal/executor"
	"github.com/cloudshipai/mrforge/internal/variables"
	"github.com/cloudshipai/mrforge/internal/workflow"
)

// RunSteps runs steps serially against dir (the parent repository's working
// copy) using vars as the shared variable context, per spec.md §4.1's setup
// and reduce phases: "run setup/reduce steps serially in the parent
// worktree." Unlike Worker.Run, this never creates or cleans up a worktree
// session — setup and reduce execute directly in the parent's own checkout.
func RunSteps(ctx context.Context, registry *executor.Registry, dir string, vars *variables.Context, steps []workflow.Step) error {
	runner := &stepRunner{registry: registry, validator: commit.New(dir), dir: dir, vars: vars}
	for i, step := range steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := runner.runStep(ctx, step); err != nil {
			return fmt.Errorf("agent: step %d: %w", i, err)
		}
	}
	return nil
}
