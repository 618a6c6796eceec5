// Package checkpoint implements the Checkpoint Store: atomic persistence of
// Job State keyed by job id, with version + workflow_hash fields and a
// registered migration chain for compatibility across checkpoint versions.
// New authorship (the teacher has no resume concept), built on afero's Fs
// abstraction the way every other disk-touching teacher package is, rather
// than raw os calls.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// CurrentVersion is the Job State schema version this build writes.
const CurrentVersion = 1

// ErrIncompatible is returned when a checkpoint's version has no applicable migration.
var ErrIncompatible = errors.New("checkpoint: incompatible version")

// ErrNotFound is returned when no checkpoint exists for a job id.
var ErrNotFound = errors.New("checkpoint: not found")

// Phase is the executor's current position within a job.
type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhaseMap       Phase = "map"
	PhaseReduce    Phase = "reduce"
	PhaseCompleted Phase = "completed"
)

// StepCursor records exactly where within a phase the executor last stood.
type StepCursor struct {
	Phase     Phase `json:"phase"`
	StepIndex int   `json:"step_index"`
	Iteration int   `json:"iteration"`
}

// AgentResultSummary is the checkpoint's copy of an Agent Result, trimmed to
// what resume needs (full detail lives in the event log).
type AgentResultSummary struct {
	ItemID        string   `json:"item_id"`
	Status        string   `json:"status"`
	Commits       []string `json:"commits,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// JobState is the checkpoint payload, matching spec.md §3 verbatim.
type JobState struct {
	JobID          string                         `json:"job_id"`
	Version        int                            `json:"version"`
	WorkflowHash   string                          `json:"workflow_hash"`
	TotalItems     int                             `json:"total_items"`
	Phase          Phase                           `json:"phase"`
	CompletedItems map[string]bool                 `json:"completed_items"`
	FailedItems    map[string]bool                 `json:"failed_items"`
	PendingItems   map[string]bool                 `json:"pending_items"`
	Variables      map[string]string               `json:"variables"`
	AgentResults   map[string]AgentResultSummary   `json:"agent_results"`
	StepCursor     StepCursor                      `json:"step_cursor"`
	UpdatedAt      time.Time                       `json:"updated_at"`
}

// Validate checks the partition invariant and step-cursor bounds spec.md §4.5 requires.
func (s *JobState) Validate(maxStepIndex int) error {
	seen := make(map[string]bool, s.TotalItems)
	for id := range s.CompletedItems {
		if seen[id] {
			return fmt.Errorf("checkpoint: item %q in multiple partitions", id)
		}
		seen[id] = true
	}
	for id := range s.FailedItems {
		if seen[id] {
			return fmt.Errorf("checkpoint: item %q in multiple partitions", id)
		}
		seen[id] = true
	}
	for id := range s.PendingItems {
		if seen[id] {
			return fmt.Errorf("checkpoint: item %q in multiple partitions", id)
		}
		seen[id] = true
	}
	if len(seen) != s.TotalItems {
		return fmt.Errorf("checkpoint: partition covers %d items, want %d", len(seen), s.TotalItems)
	}
	if s.Phase == PhaseCompleted && len(s.PendingItems) != 0 {
		return errors.New("checkpoint: phase=Completed but pending items remain")
	}
	if s.StepCursor.StepIndex < 0 || s.StepCursor.StepIndex > maxStepIndex {
		return fmt.Errorf("checkpoint: step cursor %d out of range [0,%d]", s.StepCursor.StepIndex, maxStepIndex)
	}
	return nil
}

// Summary is the list() entry shape: enough to pick a job without loading
// its full state.
type Summary struct {
	JobID      string    `json:"job_id"`
	Phase      Phase     `json:"phase"`
	TotalItems int       `json:"total_items"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Migration upgrades a raw JSON checkpoint from one version to the next.
type Migration func(raw map[string]interface{}) (map[string]interface{}, error)

// Store persists Job State atomically under root, one file per job id.
type Store struct {
	fs         afero.Fs
	root       string
	migrations map[int]Migration
}

// New returns a Store rooted at root, backed by fs (use afero.NewOsFs() in
// production, afero.NewMemMapFs() in tests).
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root, migrations: make(map[int]Migration)}
}

// RegisterMigration installs a migration applied when a loaded checkpoint's
// version equals fromVersion.
func (s *Store) RegisterMigration(fromVersion int, m Migration) {
	s.migrations[fromVersion] = m
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.root, jobID+".json")
}

// Save persists state atomically: write to <job_id>.json.tmp, then rename,
// so readers never observe a partial file (spec.md §4.5).
func (s *Store) Save(state *JobState) error {
	if state.Version == 0 {
		state.Version = CurrentVersion
	}
	state.UpdatedAt = time.Now()

	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("checkpoint: prepare root: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	final := s.path(state.JobID)
	tmp := final + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, final); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load reads a job's checkpoint, applying any registered migration chain
// when its version is stale; returns ErrIncompatible if no chain reaches
// CurrentVersion, and ErrNotFound if no file exists.
func (s *Store) Load(jobID string) (*JobState, error) {
	data, err := afero.ReadFile(s.fs, s.path(jobID))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}

	version := CurrentVersion
	if v, ok := raw["version"].(float64); ok {
		version = int(v)
	}
	for version < CurrentVersion {
		migrate, ok := s.migrations[version]
		if !ok {
			return nil, fmt.Errorf("%w: version %d", ErrIncompatible, version)
		}
		raw, err = migrate(raw)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: migrate from %d: %w", version, err)
		}
		version++
		raw["version"] = float64(version)
	}

	migrated, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: re-marshal migrated state: %w", err)
	}
	var state JobState
	if err := json.Unmarshal(migrated, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: decode migrated state: %w", err)
	}
	return &state, nil
}

// List returns a Summary for every checkpoint under root.
func (s *Store) List() ([]Summary, error) {
	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	var summaries []Summary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		jobID := e.Name()[:len(e.Name())-len(".json")]
		state, err := s.Load(jobID)
		if err != nil {
			continue
		}
		summaries = append(summaries, Summary{
			JobID:      state.JobID,
			Phase:      state.Phase,
			TotalItems: state.TotalItems,
			UpdatedAt:  state.UpdatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].JobID < summaries[j].JobID })
	return summaries, nil
}

// Delete removes a job's checkpoint file, called by the Resume Coordinator
// after a resumed job completes successfully.
func (s *Store) Delete(jobID string) error {
	if err := s.fs.Remove(s.path(jobID)); err != nil {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}
