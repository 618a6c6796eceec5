package dlq

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(capacity int) *Queue {
	return New(afero.NewMemMapFs(), "/dlq", "job1", WithCapacity(capacity))
}

func makeEntry(itemID string, eligible bool) Entry {
	return Entry{
		ItemID:            itemID,
		FirstAttempt:      time.Now(),
		LastAttempt:       time.Now(),
		FailureCount:      1,
		FailureHistory:    []FailureDetail{{Attempt: 1, Error: "boom", Timestamp: time.Now()}},
		ErrorSignature:    "boom",
		ReprocessEligible: eligible,
	}
}

func TestQueue_AddAndGet(t *testing.T) {
	q := newTestQueue(10)
	require.NoError(t, q.Add(makeEntry("item1", true)))

	entry, ok, err := q.Get("item1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, entry.FailureCount)
}

func TestQueue_AddRejectsDuplicate(t *testing.T) {
	q := newTestQueue(10)
	require.NoError(t, q.Add(makeEntry("item1", true)))
	assert.Error(t, q.Add(makeEntry("item1", true)))
}

func TestQueue_CapacityEvictsOldestToArchive(t *testing.T) {
	q := newTestQueue(2)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Add(makeEntry(id, true)))
	}

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Archived)
}

func TestQueue_ReprocessOnlyEligibleUnlessForced(t *testing.T) {
	q := newTestQueue(10)
	require.NoError(t, q.Add(makeEntry("eligible", true)))
	require.NoError(t, q.Add(makeEntry("needs-review", false)))

	summary, err := q.Reprocess(nil, false)
	require.NoError(t, err)
	require.Len(t, summary.Removed, 1)
	assert.Equal(t, 1, summary.Selected)
	assert.Equal(t, "eligible", summary.Removed[0])

	stats, err := q.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestQueue_RemoveMissingReturnsError(t *testing.T) {
	q := newTestQueue(10)
	assert.Error(t, q.Remove("nope"))
}
