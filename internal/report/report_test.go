package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/models"
)

func sampleLedger() []models.MigrationResult {
	target := 1042
	at := time.Date(2021, 11, 17, 17, 39, 8, 0, time.UTC)
	return []models.MigrationResult{
		{Kind: models.KindProject, SourceID: 1, TargetID: &target, Name: "a", Path: "grp/a",
			Outcome: models.OutcomeSuccess, Message: "Import project: a(path: grp/a) finished", At: at},
		{Kind: models.KindProject, SourceID: 2, Name: "b", Path: "grp/b",
			Outcome: models.OutcomeError, Message: "Import project: b(path: grp/b) error: 400 - bad, \"quoted\"", At: at},
	}
}

func TestResultTable(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	out, err := ResultTable(sampleLedger())
	require.NoError(t, err)
	assert.Contains(t, out, "target id")
	assert.Contains(t, out, "1042")
	assert.Contains(t, out, "Import project: a(path: grp/a) finished")
	assert.Contains(t, out, "-")
}

func TestSourceTable(t *testing.T) {
	pterm.DisableStyling()
	defer pterm.EnableStyling()

	out, err := SourceTable(models.KindProject, []models.ResourceRecord{{ID: 7, Name: "a", PathWithNamespace: "grp/a"}})
	require.NoError(t, err)
	assert.Contains(t, out, "last_activity_at")
	assert.Contains(t, out, "grp/a")

	out, err = SourceTable(models.KindUser, []models.ResourceRecord{{ID: 3, Username: "alice", Email: "alice@example.com", State: "active"}})
	require.NoError(t, err)
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "username")
}

func TestSummary(t *testing.T) {
	got := Summary(map[models.Outcome]int{models.OutcomeSuccess: 3, models.OutcomeError: 1})
	assert.Equal(t, "4 resources (success: 3, warning: 0, skipped: 0, error: 1, timed_out: 0)", got)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleLedger()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "1042", rows[1][2])
	assert.Equal(t, "-", rows[2][2])
	assert.Equal(t, `Import project: b(path: grp/b) error: 400 - bad, "quoted"`, rows[2][6])
	assert.Equal(t, "2021-11-17T17:39:08Z", rows[1][7])
}

func TestSaveCSV(t *testing.T) {
	store, err := artifact.Open(t.TempDir())
	require.NoError(t, err)
	store.SetClock(func() time.Time { return time.Date(2021, 11, 17, 17, 39, 8, 0, time.UTC) })

	path, err := SaveCSV(store, models.KindUser, sampleLedger())
	require.NoError(t, err)
	assert.Equal(t, "2021-11-17_17-39-08_users_import.csv", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kind,source_id")
}
