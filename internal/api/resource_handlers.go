package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/gitlab-migrator/internal/migration"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

// CountResources reports how many records of a kind a migration run from
// this instance would enumerate.
func (s *Server) CountResources(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := models.Kind(chi.URLParam(r, "kind"))
	conn := s.Connections.Get(id)
	if conn == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown resource kind "+string(kind))
		return
	}
	e := migration.NewEnumerator(platform.ForKind(platform.NewClient(conn), kind), s.Settings.PerPage, s.Settings.PaceBase, s.logger())
	n, err := e.Count(r.Context(), migration.SourceOptions(kind))
	if err != nil {
		writeError(w, platformStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instance": conn.Name,
		"kind":     kind,
		"count":    n,
	})
}

// platformStatus maps a remote failure to the status returned to clients.
func platformStatus(err error) int {
	if platform.StatusCode(err) == http.StatusNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
