package migration

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rflorenc/gitlab-migrator/internal/gitlabtest"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

func projectRecord(namespace, path string) models.ResourceRecord {
	return models.ResourceRecord{
		Name:              path,
		Path:              path,
		PathWithNamespace: namespace + "/" + path,
		Namespace:         &models.Namespace{FullPath: namespace},
	}
}

func TestChecker_ExactKeyAmongFuzzyCandidates(t *testing.T) {
	dst := gitlabtest.New()
	defer dst.Close()
	dst.AddProject("grp", "app-old", "app-old")
	dst.AddProject("other", "app", "app")
	want := dst.AddProject("grp", "app", "app")

	c := NewChecker(NewEnumerator(projectsOf(dst), 1, 0, nil), false)
	match, err := c.Find(context.Background(), projectRecord("grp", "app"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, want, match.ID)
	assert.Equal(t, []string{"app", "app", "app"}, dst.Searches(models.KindProject))
}

func TestChecker_NoCandidates(t *testing.T) {
	dst := gitlabtest.New()
	defer dst.Close()
	dst.AddProject("grp", "service", "service")

	c := NewChecker(NewEnumerator(projectsOf(dst), 100, 0, nil), false)
	match, err := c.Find(context.Background(), projectRecord("grp", "app"))
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestChecker_GroupsMatchTopLevelPath(t *testing.T) {
	dst := gitlabtest.New()
	defer dst.Close()
	dst.AddGroup("Infra", "infra-legacy")
	want := dst.AddGroup("Infra", "infra")

	c := NewChecker(NewEnumerator(platform.NewGroups(dst.Client()), 100, 0, nil), false)
	match, err := c.Find(context.Background(), models.ResourceRecord{Name: "Infra", Path: "infra"})
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, want, match.ID)
}

func TestChecker_UsersMatchUsername(t *testing.T) {
	dst := gitlabtest.New()
	defer dst.Close()
	dst.AddUser(models.ResourceRecord{Username: "alice2", Email: "a2@example.com"})

	c := NewChecker(NewEnumerator(platform.NewUsers(dst.Client()), 100, 0, nil), false)
	match, err := c.Find(context.Background(), models.ResourceRecord{Username: "alice"})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestChecker_IndexedListsOnce(t *testing.T) {
	dst := gitlabtest.New()
	defer dst.Close()
	a := dst.AddProject("grp", "a", "a")
	dst.AddProject("grp", "b", "b")

	c := NewChecker(NewEnumerator(projectsOf(dst), 100, 0, nil), true)
	match, err := c.Find(context.Background(), projectRecord("grp", "a"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, a, match.ID)

	match, err = c.Find(context.Background(), projectRecord("grp", "z"))
	require.NoError(t, err)
	assert.Nil(t, match)
	assert.Equal(t, 1, dst.PageRequests(models.KindProject))
	assert.Empty(t, dst.Searches(models.KindProject))

	c.Remember(projectRecord("grp", "z"), 77)
	match, err = c.Find(context.Background(), projectRecord("grp", "z"))
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, 77, match.ID)
}

func TestChecker_TransportError(t *testing.T) {
	dst := gitlabtest.New()
	defer dst.Close()
	dst.FailListing(models.KindProject, http.StatusServiceUnavailable, "503 Service Unavailable")

	c := NewChecker(NewEnumerator(projectsOf(dst), 100, 0, nil), false)
	_, err := c.Find(context.Background(), projectRecord("grp", "a"))
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, platform.StatusCode(err))
}
