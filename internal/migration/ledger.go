package migration

import (
	"sync"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// Ledger is the append-only, insertion-ordered record of a run. A single
// writer appends while any number of readers take snapshots.
type Ledger struct {
	mu      sync.RWMutex
	entries []models.MigrationResult
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds r at the end of the ledger.
func (l *Ledger) Append(r models.MigrationResult) {
	l.mu.Lock()
	l.entries = append(l.entries, r)
	l.mu.Unlock()
}

// Entries returns a copy of the ledger in insertion order.
func (l *Ledger) Entries() []models.MigrationResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.MigrationResult, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Counts tallies entries per outcome.
func (l *Ledger) Counts() map[models.Outcome]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[models.Outcome]int, len(models.Outcomes))
	for _, e := range l.entries {
		counts[e.Outcome]++
	}
	return counts
}

// Filter returns the entries with any of the given outcomes, in order.
func (l *Ledger) Filter(outcomes ...models.Outcome) []models.MigrationResult {
	want := make(map[models.Outcome]bool, len(outcomes))
	for _, o := range outcomes {
		want[o] = true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.MigrationResult
	for _, e := range l.entries {
		if want[e.Outcome] {
			out = append(out, e)
		}
	}
	return out
}

// Failed reports whether any entry needs operator attention.
func (l *Ledger) Failed() bool {
	return len(l.Filter(models.OutcomeError, models.OutcomeTimedOut)) > 0
}
