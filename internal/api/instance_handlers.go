package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

func validateInstance(conn *models.Connection) string {
	if conn.Name == "" {
		return "name is required"
	}
	u, err := url.Parse(conn.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "url must be an http(s) address"
	}
	conn.URL = strings.TrimRight(conn.URL, "/")
	return ""
}

func (s *Server) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if msg := validateInstance(&conn); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if conn.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if s.Connections.FindByName(conn.Name) != nil {
		writeError(w, http.StatusConflict, "an instance named "+conn.Name+" already exists")
		return
	}
	conn.PingStatus, conn.PingError, conn.LastChecked = "", "", nil
	conn.Version, conn.Revision = "", ""
	s.Connections.Create(&conn)
	s.logger().Infow("instance registered", "instance", conn.Name, "url", conn.URL)
	writeJSON(w, http.StatusCreated, conn.Redacted())
}

func (s *Server) ListInstances(w http.ResponseWriter, r *http.Request) {
	conns := s.Connections.List()
	out := make([]models.Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Redacted())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	conn := s.Connections.Get(chi.URLParam(r, "id"))
	if conn == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, conn.Redacted())
}

// UpdateInstance replaces an instance's settings. Omitting the token keeps
// the stored one.
func (s *Server) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var conn models.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if msg := validateInstance(&conn); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if other := s.Connections.FindByName(conn.Name); other != nil && other.ID != id {
		writeError(w, http.StatusConflict, "an instance named "+conn.Name+" already exists")
		return
	}
	conn.ID = id
	conn.PingStatus = "unknown"
	conn.PingError, conn.LastChecked = "", nil
	conn.Version, conn.Revision = "", ""
	if !s.Connections.Update(&conn) {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	writeJSON(w, http.StatusOK, conn.Redacted())
}

func (s *Server) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.Connections.Delete(id) {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestInstance probes GET /version with the stored token and records the
// result on the instance.
func (s *Server) TestInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conn := s.Connections.Get(id)
	if conn == nil {
		writeError(w, http.StatusNotFound, "instance not found")
		return
	}
	err := platform.ProbeAndStore(r.Context(), platform.NewClient(conn), conn, s.Connections, s.logger())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	probed := s.Connections.Get(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"version":  probed.Version,
		"revision": probed.Revision,
	})
}
