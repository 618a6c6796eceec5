package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeSourcePointer records which workflow file produced a job, so a later
// `mrctl resume <job-id>` can re-locate and re-parse it without the caller
// repeating the path, matching spec.md §6's `resume <job_id> [...]` surface.
// This sits alongside the checkpoint, not inside it: Job State itself stays
// exactly the schema spec.md §3 describes.
func writeSourcePointer(checkpointRoot, jobID, workflowPath string) error {
	abs, err := filepath.Abs(workflowPath)
	if err != nil {
		abs = workflowPath
	}
	path := sourcePointerPath(checkpointRoot, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(abs), 0o644)
}

func readSourcePointer(checkpointRoot, jobID string) (string, error) {
	data, err := os.ReadFile(sourcePointerPath(checkpointRoot, jobID))
	if err != nil {
		return "", fmt.Errorf("resolve workflow file for job %s: %w", jobID, err)
	}
	return string(data), nil
}

func sourcePointerPath(checkpointRoot, jobID string) string {
	return filepath.Join(checkpointRoot, jobID+".source")
}
