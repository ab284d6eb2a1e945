// Package artifact manages the on-disk content store that holds exported
// archives and run files.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// TimestampLayout prefixes every stored file name.
const TimestampLayout = "2006-01-02_15-04-05"

// ErrStore marks failures to create or write the content store. They are
// fatal to a run.
var ErrStore = errors.New("content store failure")

// Store is a writable directory for one run scope (e.g. result/export/project).
type Store struct {
	dir string
	now func() time.Time
}

// Open acquires dir, creating it if absent.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "can not create result files dir %s", dir), ErrStore)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "resolving %s", dir), ErrStore)
	}
	return &Store{dir: abs, now: time.Now}, nil
}

// Dir returns the absolute store directory.
func (s *Store) Dir() string {
	return s.dir
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// FileName returns "{timestamp}_{name}_{suffix}".
func (s *Store) FileName(name, suffix string) string {
	return fmt.Sprintf("%s_%s_%s", s.now().Format(TimestampLayout), safeName(name), suffix)
}

// ArtifactPath returns the path for an export archive of name.
func (s *Store) ArtifactPath(name string) string {
	return filepath.Join(s.dir, s.FileName(name, "export.tar.gz"))
}

// Create opens a new file in the store for writing. The file must not exist.
func (s *Store) Create(fileName string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(s.dir, fileName), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating %s", fileName), ErrStore)
	}
	return f, nil
}

// Save writes the archive of name by calling write with the open file and
// returns the stored path and size. An existing file is never replaced: a
// numbered variant of the name is used instead. A partial file is removed
// on failure.
func (s *Store) Save(name string, write func(w io.Writer) (int64, error)) (string, int64, error) {
	f, path, err := s.createUnique(name)
	if err != nil {
		return "", 0, errors.Mark(errors.Wrapf(err, "download export file failure: %s", path), ErrStore)
	}
	n, werr := write(f)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return "", 0, errors.Mark(errors.Wrapf(werr, "download export file failure: %s", path), ErrStore)
	}
	return path, n, nil
}

const maxVariants = 100

func (s *Store) createUnique(name string) (*os.File, string, error) {
	path := s.ArtifactPath(name)
	for i := 2; ; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !os.IsExist(err) || i > maxVariants {
			return nil, path, err
		}
		path = s.ArtifactPath(fmt.Sprintf("%s_%d", name, i))
	}
}

// safeName keeps resource names usable as file name components.
func safeName(name string) string {
	r := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_")
	return r.Replace(name)
}
