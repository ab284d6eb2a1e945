package migration

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

func TestLedger_OrderAndCounts(t *testing.T) {
	l := NewLedger()
	l.Append(models.MigrationResult{SourceID: 1, Outcome: models.OutcomeSuccess})
	l.Append(models.MigrationResult{SourceID: 2, Outcome: models.OutcomeError})
	l.Append(models.MigrationResult{SourceID: 3, Outcome: models.OutcomeSuccess})
	l.Append(models.MigrationResult{SourceID: 4, Outcome: models.OutcomeTimedOut})

	assert.Equal(t, 4, l.Len())
	ids := []int{}
	for _, e := range l.Entries() {
		ids = append(ids, e.SourceID)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, ids)

	counts := l.Counts()
	assert.Equal(t, 2, counts[models.OutcomeSuccess])
	assert.Equal(t, 0, counts[models.OutcomeWarning])

	failed := l.Filter(models.OutcomeError, models.OutcomeTimedOut)
	assert.Len(t, failed, 2)
	assert.Equal(t, 2, failed[0].SourceID)
	assert.True(t, l.Failed())
}

func TestLedger_EntriesIsSnapshot(t *testing.T) {
	l := NewLedger()
	l.Append(models.MigrationResult{SourceID: 1})
	snap := l.Entries()
	snap[0].SourceID = 99
	assert.Equal(t, 1, l.Entries()[0].SourceID)
	assert.False(t, l.Failed())
}

func TestLedger_ConcurrentReaders(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			l.Append(models.MigrationResult{SourceID: i, Outcome: models.OutcomeSuccess})
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = l.Entries()
				_ = l.Counts()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, l.Len())
}
