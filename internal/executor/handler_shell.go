package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mrforge/executor")

// ShellHandler spawns req.Command through a shell (or, when binary is set,
// as an argument to that binary — used for the llm-cli kind). Grounded on
// internal/coding/cli_backend.go's Execute: context.WithTimeout around the
// subprocess, an OTel span per call, stdout/stderr captured separately.
type ShellHandler struct {
	binary string // "" means run req.Command through /bin/sh -c
}

// NewShellHandler returns a Handler that either runs commands through a
// shell (binary=="") or forwards the command string as the sole argument to
// binary (used to ground the llm-cli step kind on an external CLI tool).
func NewShellHandler(binary string) *ShellHandler {
	return &ShellHandler{binary: binary}
}

func (h *ShellHandler) Execute(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "executor.shell",
		trace.WithAttributes(attribute.String("working_dir", req.WorkingDir)))
	defer span.End()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if h.binary == "" {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", req.Command)
	} else {
		cmd = exec.CommandContext(ctx, h.binary, req.Command)
	}
	cmd.Dir = req.WorkingDir
	cmd.Env = mergeEnv(req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			span.RecordError(runErr)
			return Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: duration}, runErr
		}
	}

	return Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func mergeEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
