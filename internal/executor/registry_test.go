package executor

import (
	"context"
	"testing"
	"time"

	"github.com/cloudshipai/mrforge/internal/workflow"
)

func TestRegistry_DispatchShell(t *testing.T) {
	r := NewRegistry()
	res, err := r.Dispatch(context.Background(), workflow.Step{Kind: workflow.StepShell}, "echo hello", Request{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello\n")
	}
}

func TestRegistry_DispatchShellNonZeroExit(t *testing.T) {
	r := NewRegistry()
	res, err := r.Dispatch(context.Background(), workflow.Step{Kind: workflow.StepShell}, "exit 3", Request{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRegistry_DispatchUnknownHandlerKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), workflow.Step{Kind: workflow.StepHandler, Handler: "missing"}, "x", Request{})
	if err == nil {
		t.Fatal("expected error for unregistered handler name")
	}
}

func TestRegistry_RegisterNamedHandler(t *testing.T) {
	r := NewRegistry()
	called := false
	r.RegisterNamed("custom", HandlerFunc(func(ctx context.Context, req Request) (Result, error) {
		called = true
		return Result{ExitCode: 0}, nil
	}))
	_, err := r.Dispatch(context.Background(), workflow.Step{Kind: workflow.StepHandler, Handler: "custom"}, "x", Request{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Error("custom handler was not invoked")
	}
}
