package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/cloudshipai/mrforge/internal/dlq"
	"github.com/cloudshipai/mrforge/internal/mrconfig"
)

var dlqFlags struct {
	jobID string
	force bool
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and manage the dead-letter queue",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered items for a job",
	RunE:  runDLQList,
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize a job's dead-letter queue",
	RunE:  runDLQStats,
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Remove reprocess-eligible items so the next run re-attempts them",
	RunE:  runDLQRetry,
}

func init() {
	dlqCmd.PersistentFlags().StringVar(&dlqFlags.jobID, "job-id", "", "job id whose dead-letter queue to operate on")
	dlqRetryCmd.Flags().BoolVar(&dlqFlags.force, "force", false, "also retry items not marked reprocess_eligible")
	dlqCmd.AddCommand(dlqListCmd, dlqStatsCmd, dlqRetryCmd)
}

func openDLQ() (*dlq.Queue, error) {
	if dlqFlags.jobID == "" {
		return nil, fmt.Errorf("--job-id is required")
	}
	cfg, err := mrconfig.Load()
	if err != nil {
		return nil, err
	}
	return dlq.New(afero.NewOsFs(), cfg.DLQRoot, dlqFlags.jobID), nil
}

func runDLQList(cmd *cobra.Command, args []string) error {
	q, err := openDLQ()
	if err != nil {
		return err
	}
	entries, err := q.List(nil)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDLQStats(cmd *cobra.Command, args []string) error {
	q, err := openDLQ()
	if err != nil {
		return err
	}
	stats, err := q.Stats()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDLQRetry(cmd *cobra.Command, args []string) error {
	q, err := openDLQ()
	if err != nil {
		return err
	}
	summary, err := q.Reprocess(nil, dlqFlags.force)
	if err != nil {
		return err
	}
	fmt.Printf("selected %d item(s) for reprocessing\n", summary.Selected)
	return nil
}
