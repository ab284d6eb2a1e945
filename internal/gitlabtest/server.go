// Package gitlabtest provides an in-memory GitLab v4 API for tests.
package gitlabtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

// Token is the PRIVATE-TOKEN every fake instance accepts.
const Token = "glpat-test"

type failure struct {
	code    int
	message string
}

// Server is a fake GitLab instance. All state is guarded by mu and may be
// seeded or inspected from tests while requests are in flight.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextID   int
	version  string
	groups   []models.ResourceRecord
	projects []models.ResourceRecord
	users    []models.ResourceRecord

	exportStatuses map[int][]string
	importStatuses map[string][]string
	importErrors   map[string]string
	relations      map[string]json.RawMessage
	pendingImports map[int][]string
	importFailures map[string]failure
	listFailures   map[models.Kind]failure
	blockFails     bool

	exports      map[string]int
	imports      map[string]int
	pageRequests map[models.Kind]int
	searches     map[models.Kind][]string
}

// New starts a fake instance. Close it with Close.
func New() *Server {
	s := &Server{
		nextID:         1000,
		version:        "16.11.2",
		exportStatuses: map[int][]string{},
		importStatuses: map[string][]string{},
		importErrors:   map[string]string{},
		relations:      map[string]json.RawMessage{},
		pendingImports: map[int][]string{},
		importFailures: map[string]failure{},
		listFailures:   map[models.Kind]failure{},
		exports:        map[string]int{},
		imports:        map[string]int{},
		pageRequests:   map[models.Kind]int{},
		searches:       map[models.Kind][]string{},
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.auth)
	r.Route("/api/v4", func(r chi.Router) {
		r.Get("/version", s.getVersion)

		r.Get("/groups", s.listKind(models.KindGroup))
		r.Post("/groups/import", s.importGroup)
		r.Post("/groups/{id}/export", s.triggerExport(models.KindGroup))
		r.Get("/groups/{id}/export/download", s.download(models.KindGroup))

		r.Get("/projects", s.listKind(models.KindProject))
		r.Post("/projects/import", s.importProject)
		r.Post("/projects/{id}/export", s.triggerExport(models.KindProject))
		r.Get("/projects/{id}/export", s.exportStatus)
		r.Get("/projects/{id}/export/download", s.download(models.KindProject))
		r.Get("/projects/{id}/import", s.importStatus)

		r.Get("/users", s.listKind(models.KindUser))
		r.Post("/users", s.createUser)
		r.Post("/users/{id}/block", s.blockUser)
	})
	return r
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != Token {
			writeError(w, http.StatusUnauthorized, "401 Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Client returns an API client for this instance.
func (s *Server) Client() *platform.Client {
	return platform.NewClient(s.Connection("fake"))
}

// Connection returns a connection pointing at this instance.
func (s *Server) Connection(name string) *models.Connection {
	return &models.Connection{Name: name, URL: s.URL, Token: Token}
}

// --- seeding ---

func (s *Server) id() int {
	s.nextID++
	return s.nextID
}

// AddGroup seeds a top-level group and returns its id.
func (s *Server) AddGroup(name, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.groups = append(s.groups, models.ResourceRecord{ID: id, Name: name, Path: path, FullPath: path})
	return id
}

// AddProject seeds a project in namespace and returns its id.
func (s *Server) AddProject(namespace, name, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addProject(namespace, name, path)
}

func (s *Server) addProject(namespace, name, path string) int {
	id := s.id()
	now := time.Date(2021, 11, 17, 17, 39, 8, 0, time.UTC)
	s.projects = append(s.projects, models.ResourceRecord{
		ID:                id,
		Name:              name,
		Path:              path,
		PathWithNamespace: namespace + "/" + path,
		Namespace:         &models.Namespace{Name: namespace, Path: namespace, FullPath: namespace},
		CreatedAt:         &now,
		LastActivityAt:    &now,
	})
	return id
}

// AddUser seeds a user. A zero rec.ID is assigned.
func (s *Server) AddUser(rec models.ResourceRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == 0 {
		rec.ID = s.id()
	}
	if rec.State == "" {
		rec.State = "active"
	}
	s.users = append(s.users, rec)
	return rec.ID
}

// SetExportStatuses scripts the statuses reported for project id's export.
// The last status repeats.
func (s *Server) SetExportStatuses(id int, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exportStatuses[id] = statuses
}

// SetImportStatuses scripts the statuses reported for an import into path.
// The last status repeats; "failed" reports importErr.
func (s *Server) SetImportStatuses(path, importErr string, statuses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.importStatuses[path] = statuses
	s.importErrors[path] = importErr
}

// SetFailedRelations replaces the failed_relations reported when the
// import into path fails.
func (s *Server) SetFailedRelations(path, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[path] = json.RawMessage(raw)
}

// FailImport makes imports into path fail with code.
func (s *Server) FailImport(path string, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.importFailures[path] = failure{code, message}
}

// FailListing makes listing kind fail with code.
func (s *Server) FailListing(kind models.Kind, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFailures[kind] = failure{code, message}
}

// FailBlocks makes every block request fail.
func (s *Server) FailBlocks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockFails = true
}

// --- inspection ---

// Exports returns how many exports were triggered for kind id.
func (s *Server) Exports(kind models.Kind, id int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exports[fmt.Sprintf("%s/%d", kind, id)]
}

// TotalExports returns how many exports were triggered on this instance.
func (s *Server) TotalExports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.exports {
		n += c
	}
	return n
}

// Imports returns how many imports (or user creations) were triggered
// for path.
func (s *Server) Imports(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imports[path]
}

// TotalImports returns how many imports were triggered on this instance.
func (s *Server) TotalImports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.imports {
		n += c
	}
	return n
}

// PageRequests returns how many listing pages of kind were served.
func (s *Server) PageRequests(kind models.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageRequests[kind]
}

// Searches returns the search terms used for kind, in order.
func (s *Server) Searches(kind models.Kind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.searches[kind]...)
}

// Projects returns a snapshot of the projects on this instance.
func (s *Server) Projects() []models.ResourceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ResourceRecord(nil), s.projects...)
}

// Groups returns a snapshot of the groups on this instance.
func (s *Server) Groups() []models.ResourceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ResourceRecord(nil), s.groups...)
}

// Users returns a snapshot of the users on this instance.
func (s *Server) Users() []models.ResourceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ResourceRecord(nil), s.users...)
}

// --- handlers ---

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	v := s.version
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"version": v, "revision": "abc123"})
}

func (s *Server) listKind(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		s.mu.Lock()
		s.pageRequests[kind]++
		if q.Get("search") != "" {
			s.searches[kind] = append(s.searches[kind], q.Get("search"))
		}
		if f, ok := s.listFailures[kind]; ok {
			s.mu.Unlock()
			writeError(w, f.code, f.message)
			return
		}
		var all []models.ResourceRecord
		switch kind {
		case models.KindGroup:
			all = s.groups
		case models.KindProject:
			all = s.projects
		default:
			all = s.users
		}
		matched := filter(kind, all, q.Get("search"), q.Get("top_level_only") == "true")
		s.mu.Unlock()

		page := atoi(q.Get("page"), 1)
		perPage := atoi(q.Get("per_page"), 20)
		start := (page - 1) * perPage
		if start > len(matched) {
			start = len(matched)
		}
		end := start + perPage
		if end > len(matched) {
			end = len(matched)
		}

		w.Header().Set("X-Total", strconv.Itoa(len(matched)))
		w.Header().Set("X-Page", strconv.Itoa(page))
		if end < len(matched) {
			w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
		} else {
			w.Header().Set("X-Next-Page", "")
		}
		writeJSON(w, http.StatusOK, matched[start:end])
	}
}

func filter(kind models.Kind, all []models.ResourceRecord, search string, topLevel bool) []models.ResourceRecord {
	term := strings.ToLower(search)
	out := []models.ResourceRecord{}
	for _, rec := range all {
		if topLevel && rec.ParentID != nil {
			continue
		}
		if term != "" {
			fields := []string{rec.Name, rec.Path}
			if kind == models.KindUser {
				fields = []string{rec.Name, rec.Username, rec.Email}
			}
			hit := false
			for _, f := range fields {
				if strings.Contains(strings.ToLower(f), term) {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

func (s *Server) triggerExport(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.exports[fmt.Sprintf("%s/%s", kind, chi.URLParam(r, "id"))]++
		s.mu.Unlock()
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "202 Accepted"})
	}
}

func (s *Server) exportStatus(w http.ResponseWriter, r *http.Request) {
	id := atoi(chi.URLParam(r, "id"), 0)
	s.mu.Lock()
	status := next(s.exportStatuses, id, "finished")
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "export_status": status})
}

func (s *Server) download(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		fmt.Fprintf(w, "archive-%s-%s", kind, chi.URLParam(r, "id"))
	}
}

func (s *Server) importProject(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, _, err := r.FormFile("file"); err != nil {
		writeError(w, http.StatusBadRequest, "file is missing")
		return
	}
	namespace, path, name := r.FormValue("namespace"), r.FormValue("path"), r.FormValue("name")
	full := namespace + "/" + path

	s.mu.Lock()
	s.imports[full]++
	if f, ok := s.importFailures[full]; ok {
		s.mu.Unlock()
		writeError(w, f.code, f.message)
		return
	}
	if name == "" {
		name = path
	}
	id := s.addProject(namespace, name, path)
	if statuses, ok := s.importStatuses[full]; ok {
		s.pendingImports[id] = append([]string(nil), statuses...)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":                  id,
		"name":                name,
		"path":                path,
		"path_with_namespace": full,
		"import_status":       "scheduled",
	})
}

func (s *Server) importStatus(w http.ResponseWriter, r *http.Request) {
	id := atoi(chi.URLParam(r, "id"), 0)
	s.mu.Lock()
	status := next(s.pendingImports, id, "finished")
	var importErr string
	var relations json.RawMessage
	for _, p := range s.projects {
		if p.ID == id {
			importErr = s.importErrors[p.PathWithNamespace]
			relations = s.relations[p.PathWithNamespace]
		}
	}
	s.mu.Unlock()

	body := map[string]interface{}{"id": id, "import_status": status}
	if status == "failed" {
		body["import_error"] = importErr
		body["failed_relations"] = []map[string]string{{"relation_name": "issues", "exception_message": importErr}}
		if relations != nil {
			body["failed_relations"] = relations
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) importGroup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, name := r.FormValue("path"), r.FormValue("name")

	s.mu.Lock()
	s.imports[path]++
	if f, ok := s.importFailures[path]; ok {
		s.mu.Unlock()
		writeError(w, f.code, f.message)
		return
	}
	s.groups = append(s.groups, models.ResourceRecord{ID: s.id(), Name: name, Path: path, FullPath: path})
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "202 Accepted"})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	username, _ := payload["username"].(string)
	email, _ := payload["email"].(string)
	name, _ := payload["name"].(string)

	s.mu.Lock()
	s.imports[username]++
	if f, ok := s.importFailures[username]; ok {
		s.mu.Unlock()
		writeError(w, f.code, f.message)
		return
	}
	for _, u := range s.users {
		if u.Username == username {
			s.mu.Unlock()
			writeJSON(w, http.StatusConflict, map[string]interface{}{"message": "Username has already been taken"})
			return
		}
	}
	rec := models.ResourceRecord{ID: s.id(), Username: username, Email: email, Name: name, State: "active"}
	s.users = append(s.users, rec)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) blockUser(w http.ResponseWriter, r *http.Request) {
	id := atoi(chi.URLParam(r, "id"), 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockFails {
		writeError(w, http.StatusForbidden, "403 Forbidden")
		return
	}
	for i := range s.users {
		if s.users[i].ID == id {
			s.users[i].State = "blocked"
			writeJSON(w, http.StatusCreated, true)
			return
		}
	}
	writeError(w, http.StatusNotFound, "404 User Not Found")
}

// next pops the scripted status for id, repeating the last one.
func next(scripts map[int][]string, id int, fallback string) string {
	statuses := scripts[id]
	if len(statuses) == 0 {
		return fallback
	}
	status := statuses[0]
	if len(statuses) > 1 {
		scripts[id] = statuses[1:]
	}
	return status
}

func atoi(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
