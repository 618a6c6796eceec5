package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloudshipai/mrforge/internal/mapreduce"
	"github.com/cloudshipai/mrforge/internal/mrconfig"
	"github.com/cloudshipai/mrforge/internal/workflow"
)

var resumeFlags struct {
	reprocessFailed bool
	skipValidation  bool
	workflow        string
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id> [--reprocess-failed] [--skip-validation]",
	Short: "Resume an interrupted job from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeFlags.reprocessFailed, "reprocess-failed", false, "also re-attempt items currently in the dead-letter queue")
	resumeCmd.Flags().BoolVar(&resumeFlags.skipValidation, "skip-validation", false, "resume even if the workflow definition changed since the checkpoint was written")
	resumeCmd.Flags().StringVar(&resumeFlags.workflow, "workflow", "", "workflow file to use if its recorded source path no longer resolves")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := mrconfig.Load()
	if err != nil {
		return err
	}

	jobID := args[0]
	workflowPath := resumeFlags.workflow
	if workflowPath == "" {
		workflowPath, err = readSourcePointer(cfg.CheckpointRoot, jobID)
		if err != nil {
			return err
		}
	}
	data, err := os.ReadFile(workflowPath)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	def, err := workflow.Parse(data)
	if err != nil {
		return fmt.Errorf("parse workflow: %w", err)
	}

	exec, ev, err := buildExecutor(cfg, jobID, def, workflow.Hash(data))
	if err != nil {
		return err
	}
	defer ev.Shutdown()

	ctx, cancel := signalContext()
	defer cancel()

	done := bridgeCancel(ctx, exec)
	defer close(done)

	summary, err := exec.Resume(ctx, jobID, mapreduce.ResumeOptions{
		ReprocessFailed: resumeFlags.reprocessFailed,
		SkipHashCheck:   resumeFlags.skipValidation,
	})
	printSummary(summary)
	if err != nil {
		return err
	}
	if summary.Status != mapreduce.JobCompleted {
		return fmt.Errorf("job %s ended with status %s", summary.JobID, summary.Status)
	}
	return nil
}
