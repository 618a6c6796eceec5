// Package dlq implements the Dead-Letter Queue: a durable, bounded-capacity
// store of items that exhausted retries, supporting listing, filtering, and
// serialized re-enqueue. New authorship — the teacher has no DLQ concept —
// following the same afero-backed JSON-file idiom as internal/checkpoint
// and the same functional-options construction style as the teacher's
// WorkspaceManager.
package dlq

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
)

// ErrDuplicateItem is returned when adding an item_id already present in the queue.
var ErrDuplicateItem = errors.New("dlq: item already present")

// FailureDetail is one recorded attempt's failure.
type FailureDetail struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is one dead-lettered work item.
type Entry struct {
	EntryID              string            `json:"entry_id"`
	ItemID               string            `json:"item_id"`
	ItemData             json.RawMessage   `json:"item_data"`
	FirstAttempt         time.Time         `json:"first_attempt"`
	LastAttempt          time.Time         `json:"last_attempt"`
	FailureCount         int               `json:"failure_count"`
	FailureHistory       []FailureDetail   `json:"failure_history"`
	ErrorSignature       string            `json:"error_signature"`
	ReprocessEligible    bool              `json:"reprocess_eligible"`
	ManualReviewRequired bool              `json:"manual_review_required"`
	Tags                 map[string]string `json:"tags,omitempty"`
}

func (e Entry) validate() error {
	if e.FailureCount != len(e.FailureHistory) {
		return fmt.Errorf("dlq: failure_count %d != len(failure_history) %d", e.FailureCount, len(e.FailureHistory))
	}
	return nil
}

// Stats summarizes a job's DLQ contents.
type Stats struct {
	Total              int `json:"total"`
	ReprocessEligible  int `json:"reprocess_eligible"`
	ManualReviewNeeded int `json:"manual_review_needed"`
	Archived           int `json:"archived"`
}

// file is the on-disk representation: the entry list plus a monotonic write
// counter, per spec.md §6's "DLQ store" interface.
type file struct {
	Entries      []Entry `json:"entries"`
	Archived     []Entry `json:"archived"`
	WriteCounter int     `json:"write_counter"`
}

// Queue is a bounded, per-job dead-letter queue.
type Queue struct {
	fs       afero.Fs
	root     string
	jobID    string
	capacity int

	mu         sync.Mutex
	reprocessMu sync.Mutex // serializes reprocess() calls per job id
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the number of live (non-archived) entries; beyond it,
// the oldest reprocess-eligible entry (or, if none is eligible, the oldest
// entry) is evicted to the archive, never dropped.
func WithCapacity(n int) Option {
	return func(q *Queue) { q.capacity = n }
}

// New returns a Queue for jobID, persisted under root.
func New(fs afero.Fs, root, jobID string, opts ...Option) *Queue {
	q := &Queue{fs: fs, root: root, jobID: jobID, capacity: 1000}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) path() string {
	return filepath.Join(q.root, q.jobID+".json")
}

func (q *Queue) load() (*file, error) {
	data, err := afero.ReadFile(q.fs, q.path())
	if err != nil {
		return &file{}, nil
	}
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("dlq: decode: %w", err)
	}
	return &f, nil
}

func (q *Queue) save(f *file) error {
	if err := q.fs.MkdirAll(q.root, 0o755); err != nil {
		return fmt.Errorf("dlq: prepare root: %w", err)
	}
	f.WriteCounter++
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("dlq: marshal: %w", err)
	}
	tmp := q.path() + ".tmp"
	if err := afero.WriteFile(q.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("dlq: write temp file: %w", err)
	}
	return q.fs.Rename(tmp, q.path())
}

// Add inserts a new entry, evicting the oldest reprocess-eligible entry (or
// the oldest entry, if none is eligible) to the archive if the queue is at
// capacity. entry_id is assigned from a ULID so archived
// entries keep a stable, sortable identifier.
func (q *Queue) Add(entry Entry) error {
	if err := entry.validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := q.load()
	if err != nil {
		return err
	}
	for _, e := range f.Entries {
		if e.ItemID == entry.ItemID {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, entry.ItemID)
		}
	}
	if entry.EntryID == "" {
		entry.EntryID = ulid.Make().String()
	}

	if len(f.Entries) >= q.capacity {
		evictIdx := -1
		for i, e := range f.Entries {
			if e.ReprocessEligible {
				evictIdx = i
				break
			}
		}
		if evictIdx == -1 {
			evictIdx = 0
		}
		f.Archived = append(f.Archived, f.Entries[evictIdx])
		f.Entries = append(f.Entries[:evictIdx], f.Entries[evictIdx+1:]...)
	}

	f.Entries = append(f.Entries, entry)
	return q.save(f)
}

// Get returns the entry for item_id, if present and not yet archived.
func (q *Queue) Get(itemID string) (Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, err := q.load()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range f.Entries {
		if e.ItemID == itemID {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Filter is a boolean predicate over entry fields used by List and Reprocess.
type Filter func(Entry) bool

// List returns every live entry matching filter (nil matches everything).
func (q *Queue) List(filter Filter) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, err := q.load()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range f.Entries {
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

// Remove deletes item_id from the live entry set (used by the Resume
// Coordinator when reprocess_failed moves an item back into the pending set).
func (q *Queue) Remove(itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, err := q.load()
	if err != nil {
		return err
	}
	for i, e := range f.Entries {
		if e.ItemID == itemID {
			f.Entries = append(f.Entries[:i], f.Entries[i+1:]...)
			return q.save(f)
		}
	}
	return fmt.Errorf("dlq: item %q not found", itemID)
}

// Stats summarizes the queue's current contents.
func (q *Queue) Stats() (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, err := q.load()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(f.Entries), Archived: len(f.Archived)}
	for _, e := range f.Entries {
		if e.ReprocessEligible {
			stats.ReprocessEligible++
		}
		if e.ManualReviewRequired {
			stats.ManualReviewNeeded++
		}
	}
	return stats, nil
}

// ReprocessSummary reports the outcome of a Reprocess call.
type ReprocessSummary struct {
	Selected int
	Removed  []string
}

// Reprocess selects entries matching predicate (only ReprocessEligible
// entries unless force is true), removes them from the queue, and returns
// their item ids for the caller to re-enqueue as pending work. Serialized
// per job id by reprocessMu so two reprocessors cannot race on one backlog.
func (q *Queue) Reprocess(predicate Filter, force bool) (ReprocessSummary, error) {
	q.reprocessMu.Lock()
	defer q.reprocessMu.Unlock()

	q.mu.Lock()
	f, err := q.load()
	if err != nil {
		q.mu.Unlock()
		return ReprocessSummary{}, err
	}

	var remaining []Entry
	var removed []string
	for _, e := range f.Entries {
		eligible := force || e.ReprocessEligible
		if eligible && (predicate == nil || predicate(e)) {
			removed = append(removed, e.ItemID)
			continue
		}
		remaining = append(remaining, e)
	}
	f.Entries = remaining
	err = q.save(f)
	q.mu.Unlock()
	if err != nil {
		return ReprocessSummary{}, err
	}
	return ReprocessSummary{Selected: len(removed), Removed: removed}, nil
}
