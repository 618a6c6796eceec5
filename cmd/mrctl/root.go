package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloudshipai/mrforge/internal/mapreduce"
)

var rootCmd = &cobra.Command{
	Use:           "mrctl",
	Short:         "Run and manage MapReduce agent workflows",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, resumeCmd, batchCmd, dlqCmd)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, per spec.md
// §6's exit code 130 contract for interrupted jobs.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// bridgeCancel spawns a goroutine that flips exec's cooperative cancellation
// flag as soon as ctx is done, so a SIGINT/SIGTERM observed by signalContext
// reaches the executor's suspension points instead of only cancelling
// in-flight subprocess contexts. The goroutine exits once exec finishes,
// signalled by closing done.
func bridgeCancel(ctx context.Context, exec *mapreduce.Executor) (done chan struct{}) {
	done = make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			exec.Cancel()
		case <-done:
		}
	}()
	return done
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	fmt.Fprintln(os.Stderr, "mrctl:", err)
	return 1
}
