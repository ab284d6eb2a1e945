package api

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/logging"
	"github.com/rflorenc/gitlab-migrator/internal/migration"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

// RunUserExport writes every user of an instance to a timestamped JSON
// file in the server's result directory.
func (s *Server) RunUserExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn := s.Connections.Get(id)
	if conn == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}

	outputDir := filepath.Join(s.ResultDir, "export", string(models.KindUser))
	store, err := artifact.Open(outputDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job := s.Jobs.Create(models.KindUser, id, "")
	ctx, cancel := context.WithCancel(s.baseContext())
	job.SetCancel(cancel)
	client := platform.NewClient(conn)

	go func() {
		defer cancel()
		log := logging.ForJob(s.logger(), job).With("job", job.ID)
		log.Infow("exporting users", "instance", conn.Name, "url", client.BaseURL())
		users := migration.NewEnumerator(platform.NewUsers(client), s.Settings.PerPage, s.Settings.PaceBase, log)
		path, n, err := migration.ExportUsers(ctx, users, store, "")
		switch {
		case err == nil:
			log.Infow("users exported", "file", path, "count", n)
			job.Complete()
		case errors.Is(err, context.Canceled):
			job.Cancelled()
		default:
			log.Errorw("user export failed", "error", err)
			job.Fail(err.Error())
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     job.ID,
		"output_dir": store.Dir(),
	})
}
