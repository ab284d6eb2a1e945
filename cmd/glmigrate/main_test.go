package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/gitlab-migrator/internal/gitlabtest"
	"github.com/rflorenc/gitlab-migrator/internal/history"
	"github.com/rflorenc/gitlab-migrator/internal/migration"
	"github.com/rflorenc/gitlab-migrator/internal/models"
)

func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := "result_dir: " + filepath.Join(dir, "result") + `
per_page: 2
pace_base: 0s
item_delay: 0s
user_item_delay: 0s
group_export_grace: 0s
poll:
  delay: 1ms
  max_delay: 2ms
  attempts: 5
` + extra
	path := filepath.Join(dir, "glmigrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	pterm.DisableStyling()
	t.Cleanup(pterm.EnableStyling)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(invalidInput(errors.New("bad"))))
	assert.Equal(t, 2, exitCode(errors.Wrap(invalidInput(errors.New("bad")), "wrapped")))
}

func TestInvalidInvocations(t *testing.T) {
	cfg, _ := writeConfig(t, "")
	tests := []struct {
		name string
		args []string
	}{
		{"missing args", []string{"project:export2import", "https://a.example.com", "t"}},
		{"bad url", []string{"--config", cfg, "group:export2import", "not-a-url", "t", "https://b.example.com", "t"}},
		{"missing token", []string{"--config", cfg, "group:export2import", "https://a.example.com", "-", "https://b.example.com", "t"}},
		{"unknown flag", []string{"user:import", "--nope"}},
		{"missing user file", []string{"--config", cfg, "user:import", "https://a.example.com", "t", "/does/not/exist.json"}},
		{"unreadable config", []string{"--config", "/does/not/exist.yaml", "user:import", "https://a.example.com", "t", "u.json"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			require.Error(t, err)
			assert.Equal(t, 2, exitCode(err), "%v", err)
		})
	}
}

func TestProjectExport2Import(t *testing.T) {
	src, dst := gitlabtest.New(), gitlabtest.New()
	defer src.Close()
	defer dst.Close()
	src.AddProject("grp", "a", "a")
	src.AddProject("grp", "b", "b")
	dst.AddProject("grp", "b", "b")

	cfg, dir := writeConfig(t, "history_db: history.db\n")
	t.Chdir(dir)

	out, err := execute(t, "--config", cfg, "project:export2import", src.URL, gitlabtest.Token, dst.URL, gitlabtest.Token)
	require.NoError(t, err)
	assert.Contains(t, out, "2 source projects")
	assert.Contains(t, out, "grp/a")
	assert.Contains(t, out, "Import project: a(path: grp/a) finished")
	assert.Contains(t, out, "Project: b(path: grp/b) exists, do not import")
	assert.Contains(t, out, "2 resources (success: 1, warning: 1")
	assert.Equal(t, 1, dst.TotalImports())

	archives, err := filepath.Glob(filepath.Join(dir, "result", "export", "project", "*_export.tar.gz"))
	require.NoError(t, err)
	assert.Len(t, archives, 2)

	hist, err := history.Open(filepath.Join(dir, "history.db"), nil)
	require.NoError(t, err)
	defer hist.Close()
	runs, err := hist.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.JobStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].Counts[models.OutcomeWarning])
}

func TestGroupExport2Import_ConfiguredInstances(t *testing.T) {
	src, dst := gitlabtest.New(), gitlabtest.New()
	defer src.Close()
	defer dst.Close()
	src.AddGroup("Platform", "platform")
	src.AddGroup(migration.ReservedName, migration.ReservedName)

	cfg, _ := writeConfig(t, "instances:\n  - {name: old, url: "+src.URL+", token: "+gitlabtest.Token+"}\n  - {name: new, url: "+dst.URL+", token: "+gitlabtest.Token+"}\n")
	out, err := execute(t, "--config", cfg, "group:export2import", "old", "-", "new", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "dont need import")
	assert.Contains(t, out, "success: 1")
	assert.Equal(t, 1, dst.Imports("platform"))
}

func TestExport2Import_SourceUnavailableIsFailure(t *testing.T) {
	src, dst := gitlabtest.New(), gitlabtest.New()
	defer src.Close()
	defer dst.Close()
	src.FailListing(models.KindProject, http.StatusInternalServerError, "boom")

	cfg, _ := writeConfig(t, "")
	_, err := execute(t, "--config", cfg, "project:export2import", src.URL, gitlabtest.Token, dst.URL, gitlabtest.Token)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Equal(t, 0, dst.TotalImports())
}

func TestUserExportThenImport(t *testing.T) {
	src, dst := gitlabtest.New(), gitlabtest.New()
	defer src.Close()
	defer dst.Close()
	src.AddUser(models.ResourceRecord{Username: "alice", Email: "alice@example.com", Name: "Alice", State: "active"})
	src.AddUser(models.ResourceRecord{Username: "mallory", Email: "mallory@example.com", Name: "Mallory", State: "blocked"})
	src.AddUser(models.ResourceRecord{Username: "ci-bot", Email: "bot@example.com", Name: "CI", State: "active", Bot: true})

	cfg, dir := writeConfig(t, "")
	file := filepath.Join(dir, "users.json")

	out, err := execute(t, "--config", cfg, "user:export", src.URL, gitlabtest.Token, file)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 3 users")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	var exported []models.ResourceRecord
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Len(t, exported, 3)

	// refuses to overwrite
	_, err = execute(t, "--config", cfg, "user:export", src.URL, gitlabtest.Token, file)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	out, err = execute(t, "--config", cfg, "user:import", dst.URL, gitlabtest.Token, file)
	require.NoError(t, err)
	assert.Contains(t, out, "User alice(alice@example.com) import success")
	assert.Contains(t, out, "user has been blocked")
	assert.Contains(t, out, "is bot user")
	assert.Contains(t, out, "results written to")

	csvs, err := filepath.Glob(filepath.Join(dir, "result", "import", "user", "*_users_import.csv"))
	require.NoError(t, err)
	assert.Len(t, csvs, 1)
}

func TestUserImport_NotAnArray(t *testing.T) {
	cfg, dir := writeConfig(t, "")
	file := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"id": 1}`), 0o644))

	_, err := execute(t, "--config", cfg, "user:import", "https://gitlab.example.com", "t", file)
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestVersion(t *testing.T) {
	// version never loads the config
	out, err := execute(t, "--config", "/does/not/exist.yaml", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "glmigrate dev")
}
