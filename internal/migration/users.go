package migration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// ErrInvalidInput marks operator input that can never succeed, such as a
// missing user file or an output file that already exists.
var ErrInvalidInput = errors.New("invalid input")

// ExportUsers writes every source user, ordered by id, as a JSON array.
// When file is empty a timestamped name in store is used. An existing
// file is never overwritten.
func ExportUsers(ctx context.Context, users *Enumerator, store *artifact.Store, file string) (string, int, error) {
	if file == "" {
		file = filepath.Join(store.Dir(), store.FileName("users", "export.json"))
	}
	if _, err := os.Stat(file); err == nil {
		return "", 0, errors.Mark(errors.Newf("file %s already exists", file), ErrInvalidInput)
	}

	records, err := All(users.Records(ctx, SourceOptions(models.KindUser)))
	if err != nil {
		return "", 0, errors.Wrap(err, "listing source users")
	}
	if records == nil {
		records = []models.ResourceRecord{}
	}
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return "", 0, errors.Wrap(err, "encoding users")
	}

	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, errors.Mark(errors.Wrapf(err, "creating %s", file), artifact.ErrStore)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(file)
		return "", 0, errors.Mark(errors.Wrapf(err, "writing %s", file), artifact.ErrStore)
	}
	if err := f.Close(); err != nil {
		return "", 0, errors.Mark(errors.Wrapf(err, "writing %s", file), artifact.ErrStore)
	}
	return file, len(records), nil
}

// LoadUsers reads a user export file and returns its users sorted by id.
func LoadUsers(file string) (SliceSource, error) {
	info, err := os.Stat(file)
	if err != nil {
		return nil, errors.Mark(errors.Newf("user file %s does not exist", file), ErrInvalidInput)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Mark(errors.Newf("user file %s is not a regular file", file), ErrInvalidInput)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", file)
	}
	var users []models.ResourceRecord
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "user file %s is not a JSON array of users", file), ErrInvalidInput)
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return SliceSource(users), nil
}
