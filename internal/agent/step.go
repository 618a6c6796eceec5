package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudshipai/mrforge/internal/commit"
	"github.com/cloudshipai/mrforge/internal/executor"
	"github.com/cloudshipai/mrforge/internal/variables"
	"github.com/cloudshipai/mrforge/internal/workflow"
)

// stepRunner executes the per-step algorithm in spec.md §4.2 against one
// worktree directory and variable context, recursing for on_failure/
// on_exit_code/foreach nested steps.
type stepRunner struct {
	registry  *executor.Registry
	validator *commit.Validator
	dir       string
	vars      *variables.Context
}

// runStep implements spec.md §4.2's nine-step per-step algorithm.
func (r *stepRunner) runStep(ctx context.Context, step workflow.Step) error {
	// 1. when predicate
	if step.When != "" {
		ok, err := EvaluateWhen(step.When, r.vars)
		if err != nil {
			return fmt.Errorf("agent: when predicate: %w", err)
		}
		if !ok {
			return nil
		}
	}

	if step.Kind == workflow.StepForeach {
		return r.runForeach(ctx, step)
	}
	if step.Kind == workflow.StepGoalSeek {
		return r.runGoalSeek(ctx, step)
	}
	if step.Kind == workflow.StepWrite {
		return r.runWriteFile(ctx, step)
	}

	var headBefore string
	if step.CommitRequired {
		head, err := r.validator.Head(ctx)
		if err != nil {
			return fmt.Errorf("agent: commit validator head: %w", err)
		}
		headBefore = head
	}

	res, runErr := r.dispatchWithRetry(ctx, step)

	if (runErr != nil || res.ExitCode != 0) && step.OnFailure != nil {
		recoverErr := r.runStep(ctx, *step.OnFailure.Step)
		if recoverErr == nil && !step.OnFailure.FailWorkflow {
			runErr = nil
			res.ExitCode = 0
		} else if recoverErr != nil {
			return fmt.Errorf("agent: on_failure recovery: %w", recoverErr)
		} else {
			return fmt.Errorf("agent: step failed, fail_workflow=true after recovery")
		}
	}
	if runErr != nil {
		return runErr
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("agent: step exited %d: %s", res.ExitCode, res.Stderr)
	}

	if step.Capture != "" {
		raw := captureRaw(step, res)
		parsed, err := variables.Capture(raw, step.CaptureFormat)
		if err != nil {
			return fmt.Errorf("agent: capture %s: %w", step.Capture, err)
		}
		r.vars.SetIteration("captures."+step.Capture, parsed)
	}

	if step.CommitRequired {
		if _, err := r.validator.EnforceCommitRequired(ctx, headBefore, step.AutoCommit, step.CommitMessage); err != nil {
			return fmt.Errorf("agent: %w", err)
		}
	}

	if step.OnSuccess != nil {
		if err := r.runStep(ctx, *step.OnSuccess); err != nil {
			return err
		}
	}

	if branch, ok := step.OnExitCode[res.ExitCode]; ok && branch != nil {
		return r.runStep(ctx, *branch)
	}

	return nil
}

// runWriteFile implements the write-file step kind, interpolating both the
// destination path and content before handing a structured payload to the
// registry's dedicated WriteFile entry point.
func (r *stepRunner) runWriteFile(ctx context.Context, step workflow.Step) error {
	spec := step.WriteFile
	path, err := variables.Interpolate(spec.Path, r.vars, step.Lax)
	if err != nil {
		return fmt.Errorf("agent: write-file path interpolation: %w", err)
	}
	content, err := variables.Interpolate(spec.Content, r.vars, step.Lax)
	if err != nil {
		return fmt.Errorf("agent: write-file content interpolation: %w", err)
	}
	_, err = r.registry.WriteFile(ctx, r.resolveWorkingDir(step), executor.WritePayload{
		Path:    path,
		Content: content,
		Append:  spec.Append,
	})
	return err
}

// dispatchWithRetry interpolates step's command and dispatches it through
// the executor registry, re-attempting per step.Retry with the configured
// backoff strategy, re-interpolating using any updated captures between
// attempts.
func (r *stepRunner) dispatchWithRetry(ctx context.Context, step workflow.Step) (executor.Result, error) {
	attempts := 1
	var strategy workflow.RetryStrategy
	var delay time.Duration
	if step.Retry != nil {
		attempts = step.Retry.Count + 1
		strategy = step.Retry.Strategy
		delay = step.Retry.Delay.AsTime()
	}

	var lastResult executor.Result
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := backoff(strategy, delay, attempt)
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return lastResult, ctx.Err()
				}
			}
		}

		cmd, env, err := r.interpolateStep(step)
		if err != nil {
			return executor.Result{}, err
		}

		lastResult, lastErr = r.registry.Dispatch(ctx, step, cmd, executor.Request{
			WorkingDir: r.resolveWorkingDir(step),
			Env:        env,
			Timeout:    step.Timeout.AsTime(),
		})
		if lastErr == nil && lastResult.ExitCode == 0 {
			return lastResult, nil
		}
	}
	return lastResult, lastErr
}

func backoff(strategy workflow.RetryStrategy, delay time.Duration, attempt int) time.Duration {
	switch strategy {
	case workflow.RetryFixedDelay:
		return delay
	case workflow.RetryExponential:
		return delay * time.Duration(1<<uint(attempt-1))
	default:
		return 0
	}
}

func (r *stepRunner) interpolateStep(step workflow.Step) (string, map[string]string, error) {
	raw := stepCommand(step)
	cmd, err := variables.Interpolate(raw, r.vars, step.Lax)
	if err != nil {
		return "", nil, err
	}
	env, err := variables.InterpolateEnv(step.Env, r.vars, step.Lax)
	if err != nil {
		return "", nil, err
	}
	return cmd, env, nil
}

func (r *stepRunner) resolveWorkingDir(step workflow.Step) string {
	if step.WorkingDir == "" {
		return r.dir
	}
	return r.dir + "/" + step.WorkingDir
}

func stepCommand(step workflow.Step) string {
	switch step.Kind {
	case workflow.StepShell:
		return step.Shell
	case workflow.StepTest:
		return step.Test
	case workflow.StepLLMCLI:
		return step.LLMCLI
	case workflow.StepHandler:
		return step.HandlerArg
	default:
		return ""
	}
}

func captureRaw(step workflow.Step, res executor.Result) string {
	if len(step.CaptureStreams) == 0 {
		return res.Stdout
	}
	out := ""
	for _, s := range step.CaptureStreams {
		switch s {
		case workflow.StreamStdout:
			out += res.Stdout
		case workflow.StreamStderr:
			out += res.Stderr
		case workflow.StreamExitCode:
			out += strconv.Itoa(res.ExitCode)
		}
	}
	return out
}
