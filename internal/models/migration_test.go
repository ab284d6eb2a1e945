package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceRecord_UnmarshalKeepsRaw(t *testing.T) {
	body := `{"id":7,"name":"A","path":"a","path_with_namespace":"grp/a",
		"namespace":{"id":3,"full_path":"grp"},"created_at":"2021-11-17T17:39:00.820Z",
		"last_activity_at":null,"star_count":4}`

	var rec ResourceRecord
	require.NoError(t, json.Unmarshal([]byte(body), &rec))

	assert.Equal(t, 7, rec.ID)
	assert.Equal(t, "grp/a", rec.Key(KindProject))
	assert.Equal(t, "grp", rec.NamespacePath())
	require.NotNil(t, rec.CreatedAt)
	assert.Nil(t, rec.LastActivityAt)
	assert.EqualValues(t, 4, rec.Attributes()["star_count"])

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), "star_count")
}

func TestResourceRecord_Key(t *testing.T) {
	rec := ResourceRecord{Path: "a", PathWithNamespace: "grp/a", Username: "alice"}
	assert.Equal(t, "a", rec.Key(KindGroup))
	assert.Equal(t, "grp/a", rec.Key(KindProject))
	assert.Equal(t, "alice", rec.Key(KindUser))
	assert.Equal(t, "", ResourceRecord{}.NamespacePath())
}

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		in     string
		expect JobStatus
	}{
		{"finished", JobFinished},
		{"failed", JobFailed},
		{"none", JobTriggered},
		{"queued", JobTriggered},
		{"started", JobRunning},
		{"regeneration_in_progress", JobRunning},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got := ParseJobStatus(tc.in)
			assert.Equal(t, tc.expect, got)
			assert.Equal(t, tc.expect == JobFinished || tc.expect == JobFailed, got.Terminal())
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "Project", KindProject.Title())
	assert.True(t, KindUser.Valid())
	assert.False(t, Kind("pipeline").Valid())
	assert.True(t, OutcomeTimedOut.Failed())
	assert.False(t, OutcomeWarning.Failed())
}
