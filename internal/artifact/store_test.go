package artifact

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2021, 11, 17, 17, 39, 8, 0, time.UTC)
}

func TestOpen_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "result", "export", "project")
	s, err := Open(dir)
	require.NoError(t, err)

	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(s.Dir()))
}

func TestOpen_FailureIsStoreError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := Open(filepath.Join(blocker, "sub"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStore))
}

func TestArtifactPath(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	s.SetClock(fixedClock)

	assert.Equal(t, filepath.Join(s.Dir(), "2021-11-17_17-39-08_my_group_export.tar.gz"), s.ArtifactPath("my group"))
	assert.Equal(t, "2021-11-17_17-39-08_users_export.json", s.FileName("users", "export.json"))
}

func TestSave(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	s.SetClock(fixedClock)

	path, n, err := s.Save("a", func(w io.Writer) (int64, error) {
		return io.Copy(w, strings.NewReader("archive"))
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))

	// Same name within the same second gets a numbered variant
	second, _, err := s.Save("a", func(w io.Writer) (int64, error) { return 0, nil })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "2021-11-17_17-39-08_a_2_export.tar.gz"), second)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))
}

func TestSave_WriteFailureRemovesFile(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	s.SetClock(fixedClock)

	_, _, err = s.Save("b", func(w io.Writer) (int64, error) {
		w.Write([]byte("partial"))
		return 7, errors.New("connection reset")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStore))
	_, statErr := os.Stat(s.ArtifactPath("b"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSave_MissingDirIsStoreError(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(s.Dir()))

	_, _, err = s.Save("c", func(w io.Writer) (int64, error) { return 0, nil })
	assert.True(t, errors.Is(err, ErrStore))
}

func TestCreate(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	f, err := s.Create("x.csv")
	require.NoError(t, err)
	f.Close()

	_, err = s.Create("x.csv")
	assert.Error(t, err)
}
