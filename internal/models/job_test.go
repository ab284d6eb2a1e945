package models

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedResults []MigrationResult

func (f fixedResults) Entries() []MigrationResult { return f }

func TestJob_LogsSince(t *testing.T) {
	store := NewJobStore()
	job := store.Create(KindProject, "src", "dst")

	job.AppendLog("one")
	job.AppendLog("two")
	job.AppendLog("three")

	assert.Equal(t, []string{"two", "three"}, job.LogsSince(1))
	assert.Nil(t, job.LogsSince(3))
	assert.Equal(t, 3, job.Snapshot().LogLines)
}

func TestJob_Lifecycle(t *testing.T) {
	store := NewJobStore()
	job := store.Create(KindGroup, "src", "dst")
	require.Equal(t, JobStatusRunning, job.GetStatus())
	assert.False(t, job.Done())

	job.Fail("boom")
	snap := job.Snapshot()
	assert.Equal(t, JobStatusFailed, snap.Status)
	assert.Equal(t, "boom", snap.Error)
	assert.NotNil(t, snap.FinishedAt)
	assert.True(t, job.Done())
}

func TestJob_Cancel(t *testing.T) {
	store := NewJobStore()
	job := store.Create(KindProject, "src", "dst")

	// Cancel without a registered func is a no-op
	job.Cancel()

	ctx, cancel := context.WithCancel(context.Background())
	job.SetCancel(cancel)
	job.Cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Cancel did not cancel the run context")
	}
}

func TestJob_Results(t *testing.T) {
	store := NewJobStore()
	job := store.Create(KindProject, "src", "dst")
	assert.Empty(t, job.Results())

	job.SetResults(fixedResults{{SourceID: 1, Outcome: OutcomeSuccess}})
	require.Len(t, job.Results(), 1)
	assert.Equal(t, OutcomeSuccess, job.Results()[0].Outcome)
}

func TestJobStore_ListMostRecentFirst(t *testing.T) {
	store := NewJobStore()
	first := store.Create(KindGroup, "a", "b")
	second := store.Create(KindGroup, "a", "b")
	first.StartedAt = time.Now().Add(-time.Hour)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first, store.Get(first.ID))
	assert.Nil(t, store.Get("missing"))
}

func TestJobStore_CreateRunRefusesConcurrentRun(t *testing.T) {
	store := NewJobStore()
	first, err := store.CreateRun(KindGroup, "old", "new")
	require.NoError(t, err)

	_, err = store.CreateRun(KindGroup, "old", "new")
	assert.True(t, errors.Is(err, ErrRunInProgress))
	_, err = store.CreateRun(KindGroup, "other", "new")
	assert.True(t, errors.Is(err, ErrRunInProgress))

	// other kinds and other destinations are independent
	_, err = store.CreateRun(KindProject, "old", "new")
	assert.NoError(t, err)
	_, err = store.CreateRun(KindGroup, "old", "elsewhere")
	assert.NoError(t, err)

	first.Complete()
	_, err = store.CreateRun(KindGroup, "old", "new")
	assert.NoError(t, err)
}
