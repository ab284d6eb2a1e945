package platform

import (
	"context"
	"encoding/json"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// Lister is a page-based listing endpoint for one resource kind.
type Lister interface {
	Kind() models.Kind
	ListPage(ctx context.Context, opts ListOptions) (*Page, error)
}

// ImportRequest carries the placement metadata for an import upload.
type ImportRequest struct {
	Record    models.ResourceRecord
	Artifact  string // local path of the uploaded archive
	Path      string
	Name      string
	Namespace string // projects: namespace id or full path
	ParentID  int    // groups: 0 imports at top level
	Overwrite bool
}

// ImportResponse is what the target returns when an import is accepted.
type ImportResponse struct {
	ID      int             // 0 when the remote does not assign one synchronously
	Warning string          // non-fatal follow-up failure
	Raw     json.RawMessage `json:"-"`
}

// ImportStatus is the body of GET /projects/:id/import.
type ImportStatus struct {
	ID              int             `json:"id"`
	ImportStatus    string          `json:"import_status"`
	ImportError     string          `json:"import_error"`
	FailedRelations json.RawMessage `json:"failed_relations"`
}

// ExportStatus is the body of GET /projects/:id/export.
type ExportStatus struct {
	ID           int    `json:"id"`
	ExportStatus string `json:"export_status"`
}

// ForKind returns the API wrapper for kind on c.
func ForKind(c *Client, kind models.Kind) Lister {
	switch kind {
	case models.KindGroup:
		return NewGroups(c)
	case models.KindProject:
		return NewProjects(c)
	case models.KindUser:
		return NewUsers(c)
	}
	return nil
}
