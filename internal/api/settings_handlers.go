package api

import (
	"net/http"

	"github.com/rflorenc/gitlab-migrator/internal/migration"
)

// GetSettings returns the pacing, polling and skip rules applied to runs
// started by this server.
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	st := s.Settings
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"per_page":           st.PerPage,
		"pace_base":          st.PaceBase.String(),
		"item_delay":         st.ItemDelay.String(),
		"user_item_delay":    st.UserItemDelay.String(),
		"group_export_grace": st.GroupExportGrace.String(),
		"index_target":       st.IndexTarget,
		"poll": map[string]interface{}{
			"delay":     st.Poll.Delay.String(),
			"max_delay": st.Poll.MaxDelay.String(),
			"factor":    st.Poll.Factor,
			"attempts":  st.Poll.Attempts,
		},
		"exclusions": map[string]interface{}{
			"namespaces": []string{migration.ReservedName},
			"users":      []string{"bot accounts", "administrator (id 1)"},
		},
	})
}
