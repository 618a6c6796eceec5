// Command mrctl drives MapReduce workflow jobs: run, resume, batch, and
// inspect the dead-letter queue. Structured the way the teacher's cmd/main
// wires cobra commands into package main, trimmed to mrctl's own surface.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return 0
}
