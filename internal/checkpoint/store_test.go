package checkpoint

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func newTestStore() *Store {
	return New(afero.NewMemMapFs(), "/checkpoints")
}

func sampleState(jobID string) *JobState {
	return &JobState{
		JobID:          jobID,
		WorkflowHash:   "abc123",
		TotalItems:     2,
		Phase:          PhaseMap,
		CompletedItems: map[string]bool{"1": true},
		FailedItems:    map[string]bool{},
		PendingItems:   map[string]bool{"2": true},
		Variables:      map[string]string{},
		AgentResults:   map[string]AgentResultSummary{},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore()
	state := sampleState("job1")
	if err := s.Save(state); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := s.Load("job1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.WorkflowHash != "abc123" || loaded.TotalItems != 2 {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", loaded.Version, CurrentVersion)
	}
}

func TestStore_LoadMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore()
	_, err := s.Load("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestJobState_ValidatePartitionInvariant(t *testing.T) {
	state := sampleState("job1")
	if err := state.Validate(10); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	state.PendingItems["1"] = true // now item 1 is both completed and pending
	if err := state.Validate(10); err == nil {
		t.Fatal("expected partition violation error")
	}
}

func TestStore_ListReturnsSummaries(t *testing.T) {
	s := newTestStore()
	if err := s.Save(sampleState("job1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(sampleState("job2")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	summaries, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("len(summaries) = %d, want 2", len(summaries))
	}
}

func TestStore_DeleteRemovesCheckpoint(t *testing.T) {
	s := newTestStore()
	if err := s.Save(sampleState("job1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("job1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load("job1"); err == nil {
		t.Fatal("expected error loading deleted checkpoint")
	}
}
