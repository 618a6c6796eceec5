package mrconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsRootedAtCwd(t *testing.T) {
	os.Unsetenv("MR_CHECKPOINT_ROOT")
	os.Unsetenv("MR_DEFAULT_MAX_PARALLEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultMaxParallel != 4 {
		t.Errorf("DefaultMaxParallel = %d, want 4", cfg.DefaultMaxParallel)
	}
	want := filepath.Join(cfg.WorkDir, ".mrforge", "checkpoints")
	if cfg.CheckpointRoot != want {
		t.Errorf("CheckpointRoot = %q, want %q", cfg.CheckpointRoot, want)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("MR_DEFAULT_MAX_PARALLEL", "8")
	t.Setenv("MR_DLQ_ROOT", "/tmp/custom-dlq")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultMaxParallel != 8 {
		t.Errorf("DefaultMaxParallel = %d, want 8", cfg.DefaultMaxParallel)
	}
	if cfg.DLQRoot != "/tmp/custom-dlq" {
		t.Errorf("DLQRoot = %q, want /tmp/custom-dlq", cfg.DLQRoot)
	}
}
