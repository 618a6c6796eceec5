package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/cloudshipai/mrforge/internal/checkpoint"
	"github.com/cloudshipai/mrforge/internal/dlq"
	"github.com/cloudshipai/mrforge/internal/events"
	"github.com/cloudshipai/mrforge/internal/executor"
	"github.com/cloudshipai/mrforge/internal/mapreduce"
	"github.com/cloudshipai/mrforge/internal/mrconfig"
	"github.com/cloudshipai/mrforge/internal/workflow"
	"github.com/cloudshipai/mrforge/internal/worktree"
)

var runFlags struct {
	maxParallel int
	retry       int
	timeout     int
	args        []string
	dryRun      bool
}

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml> [--max-parallel N] [--retry N] [--timeout S] [--args K=V] [--dry-run]",
	Short: "Run a MapReduce workflow to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().IntVar(&runFlags.maxParallel, "max-parallel", 0, "override the workflow's map.max_parallel")
	runCmd.Flags().IntVar(&runFlags.retry, "retry", -1, "override the workflow's map.retry_on_failure")
	runCmd.Flags().IntVar(&runFlags.timeout, "timeout", 0, "override the workflow's map.timeout_per_agent, in seconds")
	runCmd.Flags().StringArrayVar(&runFlags.args, "args", nil, "workflow variable in KEY=VALUE form, repeatable")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "resolve map.input and report item counts without running any step")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := mrconfig.Load()
	if err != nil {
		return err
	}

	workflowPath := args[0]
	data, err := os.ReadFile(workflowPath)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	def, err := workflow.Parse(data)
	if err != nil {
		return fmt.Errorf("parse workflow: %w", err)
	}
	result := workflow.Validate(def)
	if !result.OK() {
		return fmt.Errorf("workflow validation failed: %+v", result.Errors)
	}
	applyCLIOverrides(def)

	if runFlags.dryRun {
		report, err := mapreduce.Plan(cmd.Context(), def, parseArgs(runFlags.args))
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	jobID := uuid.NewString()

	exec, ev, err := buildExecutor(cfg, jobID, def, workflow.Hash(data))
	if err != nil {
		return err
	}
	defer ev.Shutdown()

	if err := writeSourcePointer(cfg.CheckpointRoot, jobID, workflowPath); err != nil {
		return fmt.Errorf("record workflow source: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	done := bridgeCancel(ctx, exec)
	defer close(done)

	summary, err := exec.Execute(ctx, parseArgs(runFlags.args))
	printSummary(summary)
	if err != nil {
		return err
	}
	if summary.Status != mapreduce.JobCompleted {
		return fmt.Errorf("job %s ended with status %s", summary.JobID, summary.Status)
	}
	return nil
}

// applyCLIOverrides layers run's --max-parallel/--retry/--timeout flags over
// a parsed workflow's map phase, ahead of applyDefaults filling in anything
// still unset.
func applyCLIOverrides(def *workflow.Definition) {
	if def.Map == nil {
		return
	}
	if runFlags.maxParallel > 0 {
		def.Map.MaxParallel = runFlags.maxParallel
	}
	if runFlags.retry >= 0 {
		def.Map.RetryOnFailure = runFlags.retry
	}
	if runFlags.timeout > 0 {
		def.Map.TimeoutPerAgent = workflow.Duration(time.Duration(runFlags.timeout) * time.Second)
	}
}

// parseArgs turns repeated --args KEY=VALUE flags into the workflow-tier
// variable seed Execute expects.
func parseArgs(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

func buildExecutor(cfg *mrconfig.Config, jobID string, def *workflow.Definition, workflowHash string) (*mapreduce.Executor, *events.Logger, error) {
	fs := afero.NewOsFs()

	if err := os.MkdirAll(filepath.Dir(cfg.EventLogPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("prepare event log dir: %w", err)
	}
	logFile, err := os.OpenFile(cfg.EventLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open event log: %w", err)
	}
	ev := events.New([]events.Sink{logFile}, events.WithFlushThreshold(20))

	wt := worktree.New(cfg.WorkDir,
		worktree.WithSessionsRoot(cfg.SessionsRoot),
		worktree.WithGitCredentials(worktree.GitCredentials{Token: cfg.GitToken, Username: cfg.GitUsername}),
	)
	cp := checkpoint.New(fs, cfg.CheckpointRoot)
	q := dlq.New(fs, cfg.DLQRoot, jobID)
	reg := executor.NewRegistry()

	applyDefaults(def, cfg)

	exec := mapreduce.New(jobID, def, workflowHash, cfg.WorkDir, reg, wt, cp, q, ev)
	return exec, ev, nil
}

// applyDefaults fills in a map phase's max_parallel/timeout_per_agent when
// the workflow YAML left them unset, per spec.md §3's documented defaults.
func applyDefaults(def *workflow.Definition, cfg *mrconfig.Config) {
	if def.Map == nil {
		return
	}
	if def.Map.MaxParallel == 0 {
		def.Map.MaxParallel = cfg.DefaultMaxParallel
	}
	if def.Map.TimeoutPerAgent.AsTime() == 0 {
		def.Map.TimeoutPerAgent = workflow.Duration(time.Duration(cfg.DefaultTimeoutSeconds) * time.Second)
	}
}

func printSummary(summary mapreduce.JobSummary) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Println(summary)
		return
	}
	fmt.Println(string(data))
}
