// Package report renders migration listings and ledgers for operators.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/models"
)

const dateLayout = "2006-01-02 15:04:05"

// SourceTable renders the records about to be migrated.
func SourceTable(kind models.Kind, records []models.ResourceRecord) (string, error) {
	var data pterm.TableData
	if kind == models.KindUser {
		data = pterm.TableData{{"id", "username", "email", "name", "state"}}
		for _, r := range records {
			data = append(data, []string{strconv.Itoa(r.ID), r.Username, r.Email, r.Name, r.State})
		}
	} else {
		data = pterm.TableData{{"id", "name", "path", "created_at", "last_activity_at"}}
		for _, r := range records {
			data = append(data, []string{strconv.Itoa(r.ID), r.Name, r.DisplayPath(kind), date(r.CreatedAt), date(r.LastActivityAt)})
		}
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// ResultTable renders a ledger.
func ResultTable(entries []models.MigrationResult) (string, error) {
	data := pterm.TableData{{"source id", "target id", "name", "outcome", "message"}}
	for _, e := range entries {
		data = append(data, []string{strconv.Itoa(e.SourceID), targetID(e), e.Name, string(e.Outcome), e.Message})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// Summary is a one-line tally of a ledger.
func Summary(counts map[models.Outcome]int) string {
	parts := make([]string, 0, len(models.Outcomes))
	total := 0
	for _, o := range models.Outcomes {
		parts = append(parts, fmt.Sprintf("%s: %d", o, counts[o]))
		total += counts[o]
	}
	return fmt.Sprintf("%d resources (%s)", total, strings.Join(parts, ", "))
}

var csvHeader = []string{"kind", "source_id", "target_id", "name", "path", "outcome", "message", "at"}

// WriteCSV writes entries as CSV with a header row.
func WriteCSV(w io.Writer, entries []models.MigrationResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			string(e.Kind), strconv.Itoa(e.SourceID), targetID(e), e.Name, e.Path,
			string(e.Outcome), e.Message, e.At.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV stores the ledger of a kind's run as "{ts}_{kind}s_import.csv".
func SaveCSV(store *artifact.Store, kind models.Kind, entries []models.MigrationResult) (string, error) {
	name := store.FileName(string(kind)+"s", "import.csv")
	f, err := store.Create(name)
	if err != nil {
		return "", err
	}
	if err := WriteCSV(f, entries); err != nil {
		f.Close()
		return "", errors.Mark(errors.Wrapf(err, "writing %s", name), artifact.ErrStore)
	}
	if err := f.Close(); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "writing %s", name), artifact.ErrStore)
	}
	return f.Name(), nil
}

func targetID(e models.MigrationResult) string {
	if e.TargetID == nil {
		return "-"
	}
	return strconv.Itoa(*e.TargetID)
}

func date(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(dateLayout)
}
