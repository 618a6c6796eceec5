// Package executor implements the command executor registry: the narrow,
// open-world extension point named in spec.md §9. Every step kind that
// resolves to a process spawn or file write goes through a Handler behind
// the capability interface (cmd, args, wd, env, timeout) -> {stdout, stderr,
// exit_code}; composite kinds (goal-seek, foreach) are orchestrated one
// level up, in internal/agent, by repeatedly dispatching through here.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudshipai/mrforge/internal/workflow"
)

// Result is the outcome of one dispatched command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Request is the narrow capability contract every Handler implements.
type Request struct {
	Command    string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// Handler executes one command kind. Implementations must respect ctx
// cancellation by terminating any spawned child process.
type Handler interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Registry maps a step kind to its Handler, grounded on
// internal/workflows/runtime/executor.go's ExecutorRegistry.
type Registry struct {
	mu       sync.RWMutex
	handlers map[workflow.StepKind]Handler
	named    map[string]Handler // registered "handler" kind implementations, keyed by name
}

// NewRegistry builds a Registry with the built-in shell/llm-cli/test/write-file
// handlers pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[workflow.StepKind]Handler),
		named:    make(map[string]Handler),
	}
	shell := NewShellHandler("")
	r.Register(workflow.StepShell, shell)
	r.Register(workflow.StepTest, shell)
	r.Register(workflow.StepLLMCLI, NewShellHandler("claude"))
	r.Register(workflow.StepWrite, NewWriteFileHandler())
	return r
}

// Register installs or replaces the handler for a built-in step kind.
func (r *Registry) Register(kind workflow.StepKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// RegisterNamed installs an out-of-tree handler reachable via the
// StepHandler kind's Handler field, e.g. a caller-supplied LLM CLI adapter.
func (r *Registry) RegisterNamed(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = h
}

// WriteFile dispatches a write-file step through its registered handler,
// bypassing the generic (cmd, args) contract since write-file needs a
// structured path/content/append/mode payload rather than a command string.
func (r *Registry) WriteFile(ctx context.Context, dir string, payload WritePayload) (Result, error) {
	r.mu.RLock()
	h, ok := r.handlers[workflow.StepWrite]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("executor: no handler registered for write-file")
	}
	wfh, ok := h.(*WriteFileHandler)
	if !ok {
		return Result{}, fmt.Errorf("executor: write-file handler is not a *WriteFileHandler")
	}
	return wfh.ExecuteWrite(ctx, dir, payload)
}

// Dispatch resolves step's kind to a handler and invokes it with cmd. It does
// not interpret goal-seek or foreach payloads; callers orchestrating those
// composite kinds dispatch their leaf sub-steps through this same method.
func (r *Registry) Dispatch(ctx context.Context, step workflow.Step, cmd string, req Request) (Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if step.Kind == workflow.StepHandler {
		h, ok := r.named[step.Handler]
		if !ok {
			return Result{}, fmt.Errorf("executor: no handler registered for %q", step.Handler)
		}
		req.Command = cmd
		return h.Execute(ctx, req)
	}

	h, ok := r.handlers[step.Kind]
	if !ok {
		return Result{}, fmt.Errorf("executor: no handler registered for step kind %q", step.Kind)
	}
	req.Command = cmd
	return h.Execute(ctx, req)
}
