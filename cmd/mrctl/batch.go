package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cloudshipai/mrforge/internal/mapreduce"
	"github.com/cloudshipai/mrforge/internal/mrconfig"
	"github.com/cloudshipai/mrforge/internal/workflow"
)

var batchFlags struct {
	command  string
	parallel int
	retry    int
	timeout  int
}

var batchCmd = &cobra.Command{
	Use:   "batch <pattern> --command <cmd> [--parallel N] [--retry N] [--timeout S]",
	Short: "Synthesize a map workflow over files matching a glob pattern and run it",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchFlags.command, "command", "", "shell command run per matched file, with ${item.path} substituted (required)")
	batchCmd.Flags().IntVar(&batchFlags.parallel, "parallel", 4, "max concurrent agents")
	batchCmd.Flags().IntVar(&batchFlags.retry, "retry", 0, "retries per failed item before routing to the dead-letter queue")
	batchCmd.Flags().IntVar(&batchFlags.timeout, "timeout", 600, "per-agent timeout, in seconds")
	batchCmd.MarkFlagRequired("command")
}

// runBatch synthesizes a single-step mapreduce workflow whose input is every
// file matching <pattern>: one item per match, agent_template running
// --command with ${item.path} substituted in, per spec.md §6's
// `batch <pattern> --command <cmd>` surface.
func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := mrconfig.Load()
	if err != nil {
		return err
	}

	pattern := args[0]
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("batch: bad pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("batch: pattern %q matched no files", pattern)
	}

	inputPath, err := writeBatchInput(cfg.CheckpointRoot, matches)
	if err != nil {
		return fmt.Errorf("batch: stage input: %w", err)
	}
	defer os.Remove(inputPath)

	def := &workflow.Definition{
		Name: "batch:" + pattern,
		Mode: workflow.ModeMapReduce,
		Map: &workflow.MapPhase{
			Input:           inputPath,
			MaxParallel:     batchFlags.parallel,
			TimeoutPerAgent: workflow.Duration(time.Duration(batchFlags.timeout) * time.Second),
			RetryOnFailure:  batchFlags.retry,
			ContinueOnFail:  true,
			AgentTemplate: []workflow.Step{
				{Kind: workflow.StepShell, Shell: batchFlags.command},
			},
		},
	}
	result := workflow.Validate(def)
	if !result.OK() {
		return fmt.Errorf("batch: synthesized workflow invalid: %+v", result.Errors)
	}

	jobID := uuid.NewString()
	hash := workflow.Hash([]byte(def.Name + batchFlags.command))

	exec, ev, err := buildExecutor(cfg, jobID, def, hash)
	if err != nil {
		return err
	}
	defer ev.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	done := bridgeCancel(ctx, exec)
	defer close(done)

	summary, err := exec.Execute(ctx, map[string]string{})
	printSummary(summary)
	if err != nil {
		return err
	}
	if summary.Status != mapreduce.JobCompleted {
		return fmt.Errorf("job %s ended with status %s", summary.JobID, summary.Status)
	}
	return nil
}

// writeBatchInput stages the glob matches as the JSON array map.input
// expects: one object per file, keyed by a stable id and its path.
func writeBatchInput(checkpointRoot string, matches []string) (string, error) {
	type batchItem struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	}
	items := make([]batchItem, len(matches))
	for i, m := range matches {
		items[i] = batchItem{ID: fmt.Sprintf("%d", i), Path: m}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(checkpointRoot, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(checkpointRoot, "batch-"+uuid.NewString()+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
