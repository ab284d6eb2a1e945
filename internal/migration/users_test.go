package migration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/gitlabtest"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

func TestExportUsers(t *testing.T) {
	src := gitlabtest.New()
	defer src.Close()
	src.AddUser(models.ResourceRecord{Username: "alice", Email: "alice@example.com", Name: "Alice"})
	src.AddUser(models.ResourceRecord{Username: "bob", Email: "bob@example.com", Name: "Bob", State: "blocked"})

	store, err := artifact.Open(t.TempDir())
	require.NoError(t, err)
	users := NewEnumerator(platform.NewUsers(src.Client()), 1, 0, nil)

	file, n, err := ExportUsers(context.Background(), users, store, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, store.Dir(), filepath.Dir(file))
	assert.Contains(t, filepath.Base(file), "_users_export.json")

	loaded, err := LoadUsers(file)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "alice", loaded[0].Username)
	assert.Equal(t, "blocked", loaded[1].State)

	_, _, err = ExportUsers(context.Background(), users, store, file)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestLoadUsers_SortsByID(t *testing.T) {
	file := filepath.Join(t.TempDir(), "users.json")
	data, _ := json.Marshal([]map[string]interface{}{
		{"id": 9, "username": "zed"},
		{"id": 2, "username": "amy"},
		{"id": 5, "username": "kim", "location": "Oslo"},
	})
	require.NoError(t, os.WriteFile(file, data, 0o644))

	users, err := LoadUsers(file)
	require.NoError(t, err)
	ids := []int{}
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []int{2, 5, 9}, ids)
	assert.Equal(t, "Oslo", users[1].Attributes()["location"])
}

func TestLoadUsers_InvalidInput(t *testing.T) {
	dir := t.TempDir()
	notJSON := filepath.Join(dir, "users.txt")
	require.NoError(t, os.WriteFile(notJSON, []byte("username,email"), 0o644))
	object := filepath.Join(dir, "object.json")
	require.NoError(t, os.WriteFile(object, []byte(`{"id":1}`), 0o644))

	tests := []struct {
		name string
		file string
	}{
		{"missing", filepath.Join(dir, "missing.json")},
		{"directory", dir},
		{"not json", notJSON},
		{"not an array", object},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadUsers(tc.file)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
		})
	}
}
