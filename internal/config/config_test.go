package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Listen)
	assert.Equal(t, 100, c.PerPage)
	assert.Equal(t, 300*time.Millisecond, c.PaceBase)
	assert.Equal(t, 3*time.Second, c.ItemDelay)
	assert.Equal(t, 5*time.Second, c.GroupExportGrace)
	assert.Equal(t, time.Second, c.Poll.Delay)
	assert.Equal(t, 200, c.Poll.Attempts)
	assert.NoError(t, c.Validate())
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
per_page: 50
item_delay: 0s
poll:
  attempts: -1
index_target: true
instances:
  - name: old
    url: https://gitlab.old.example.com
    token: glpat-old
  - name: new
    url: https://gitlab.new.example.com
    token: glpat-new
    insecure: true
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Listen)
	assert.Equal(t, 50, c.PerPage)
	assert.Equal(t, time.Duration(0), c.ItemDelay)
	assert.Equal(t, -1, c.Poll.Attempts)
	// untouched keys keep defaults
	assert.Equal(t, time.Second, c.Poll.Delay)
	assert.Equal(t, 1.5, c.Poll.Factor)

	s := c.Settings()
	assert.True(t, s.IndexTarget)
	assert.Equal(t, -1, s.Poll.Attempts)

	ic, ok := c.Instance("new")
	require.True(t, ok)
	conn := ic.Connection()
	assert.Equal(t, "https://gitlab.new.example.com/api/v4", conn.APIBase())
	assert.True(t, conn.Insecure)
	_, ok = c.Instance("missing")
	assert.False(t, ok)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"per page", "per_page: 500"},
		{"negative delay", "item_delay: -1s"},
		{"zero attempts", "poll:\n  attempts: 0"},
		{"factor below one", "poll:\n  factor: 0.5"},
		{"duplicate instance", "instances:\n  - {name: a, url: http://a}\n  - {name: a, url: http://b}"},
		{"instance without url", "instances:\n  - {name: a}"},
		{"bad yaml", "per_page: [1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResultPath(t *testing.T) {
	c := Default()
	c.ResultDir = "/var/lib/glmigrate"
	assert.Equal(t, "/var/lib/glmigrate/export/project", c.ResultPath("export", models.KindProject))
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glmigrate.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
per_page = 20
item_delay = "1s"
history_db = "runs.db"

[poll]
max_delay = "10s"

[[instances]]
name = "old"
url = "https://gitlab.old.example.com"
token = "glpat-old"
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, c.PerPage)
	assert.Equal(t, time.Second, c.ItemDelay)
	assert.Equal(t, 10*time.Second, c.Poll.MaxDelay)
	assert.Equal(t, time.Second, c.Poll.Delay)
	assert.Equal(t, "runs.db", c.HistoryDB)
	ic, ok := c.Instance("old")
	require.True(t, ok)
	assert.Equal(t, "glpat-old", ic.Token)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "per_page: 50\nitem_delay: 2s\n")
	t.Setenv("GLMIGRATE_PER_PAGE", "10")
	t.Setenv("GLMIGRATE_POLL_ATTEMPTS", "-1")
	t.Setenv("GLMIGRATE_POLL_MAX_DELAY", "1m")
	t.Setenv("GLMIGRATE_INDEX_TARGET", "true")
	t.Setenv("GLMIGRATE_HISTORY_DB", "/tmp/runs.db")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, c.PerPage)
	assert.Equal(t, 2*time.Second, c.ItemDelay)
	assert.Equal(t, -1, c.Poll.Attempts)
	assert.Equal(t, time.Minute, c.Poll.MaxDelay)
	assert.True(t, c.IndexTarget)
	assert.Equal(t, "/tmp/runs.db", c.HistoryDB)
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("GLMIGRATE_PER_PAGE", "many")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("GLMIGRATE_PER_PAGE", "1000")
	_, err = Load("")
	assert.Error(t, err)
}
