package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecord_UpsertPreservesIdentity(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Record(Submission{
		SubmissionID: "SUB-1", GovernanceLevel: "HIGH", Entity: "clinic-a", ResilienceScore: 88,
	}))
	require.NoError(t, r.Record(Submission{
		SubmissionID: "SUB-1", GovernanceLevel: "HIGH", Entity: "clinic-a", ResilienceScore: 92,
		Status: "REVISED",
	}))

	got, err := r.Get("SUB-1")
	require.NoError(t, err)
	assert.Equal(t, 92.0, got.ResilienceScore)
	assert.Equal(t, "REVISED", got.Status)

	n, err := r.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "upsert must not duplicate rows")
}

func TestList_Filters(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Record(Submission{SubmissionID: "H-1", GovernanceLevel: "HIGH", Entity: "clinic-a", ResilienceScore: 90}))
	require.NoError(t, r.Record(Submission{SubmissionID: "H-2", GovernanceLevel: "HIGH", Entity: "clinic-b", ResilienceScore: 85}))
	require.NoError(t, r.Record(Submission{SubmissionID: "M-1", GovernanceLevel: "MEDIUM", Entity: "clinic-a", ResilienceScore: 60}))

	high, err := r.List(Filter{Level: "HIGH"})
	require.NoError(t, err)
	assert.Len(t, high, 2)

	clinicA, err := r.List(Filter{Entity: "clinic-a"})
	require.NoError(t, err)
	assert.Len(t, clinicA, 2)

	both, err := r.List(Filter{Level: "HIGH", Entity: "clinic-a"})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "H-1", both[0].SubmissionID)

	limited, err := r.List(Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := r.List(Filter{Before: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, none)

	recent, err := r.List(Filter{After: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestGet_UnknownSubmission(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Get("NOPE")
	assert.Error(t, err)
}

func TestAggregates(t *testing.T) {
	r := openTestRegistry(t)

	avg, err := r.AverageResilience()
	require.NoError(t, err)
	assert.Equal(t, -1.0, avg, "empty registry has no average")

	require.NoError(t, r.Record(Submission{SubmissionID: "A", GovernanceLevel: "HIGH", ResilienceScore: 80}))
	require.NoError(t, r.Record(Submission{SubmissionID: "B", GovernanceLevel: "LOW", ResilienceScore: 40}))

	avg, err = r.AverageResilience()
	require.NoError(t, err)
	assert.InDelta(t, 60.0, avg, 0.01)

	levels, err := r.LevelCounts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), levels["HIGH"])
	assert.Equal(t, int64(1), levels["LOW"])
}
