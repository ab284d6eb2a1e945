package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/cockroachdb/errors"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// Projects wraps the project endpoints.
type Projects struct {
	client *Client
}

// NewProjects creates a Projects API on c.
func NewProjects(c *Client) *Projects {
	return &Projects{client: c}
}

func (p *Projects) Kind() models.Kind { return models.KindProject }

// ListPage fetches one page of GET /projects.
func (p *Projects) ListPage(ctx context.Context, opts ListOptions) (*Page, error) {
	if err := opts.Validate(models.KindProject); err != nil {
		return nil, err
	}
	return p.client.GetPage(ctx, "/projects", opts.Values())
}

// Export schedules a project export.
func (p *Projects) Export(ctx context.Context, id int) error {
	_, _, err := p.client.Post(ctx, fmt.Sprintf("/projects/%d/export", id), nil)
	return err
}

// ExportStatus reports the state of the last scheduled export.
func (p *Projects) ExportStatus(ctx context.Context, id int) (models.JobStatus, error) {
	var st ExportStatus
	if err := p.client.GetJSON(ctx, fmt.Sprintf("/projects/%d/export", id), nil, &st); err != nil {
		return "", err
	}
	return models.ParseJobStatus(st.ExportStatus), nil
}

// ExportDownload streams the finished export archive into w.
func (p *Projects) ExportDownload(ctx context.Context, id int, w io.Writer) (int64, error) {
	return p.client.Download(ctx, fmt.Sprintf("/projects/%d/export/download", id), w)
}

// Import uploads a project archive and returns the new project id.
func (p *Projects) Import(ctx context.Context, req ImportRequest) (*ImportResponse, error) {
	fields := url.Values{
		"path":      {req.Path},
		"overwrite": {fmt.Sprintf("%t", req.Overwrite)},
	}
	if req.Namespace != "" {
		fields.Set("namespace", req.Namespace)
	}
	if req.Name != "" {
		fields.Set("name", req.Name)
	}
	body, err := p.client.PostFile(ctx, "/projects/import", fields, req.Artifact)
	if err != nil {
		return nil, err
	}
	var created struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, errors.Wrap(err, "parsing import response")
	}
	return &ImportResponse{ID: created.ID, Raw: body}, nil
}

// ImportStatus reports the state of an import into project id.
func (p *Projects) ImportStatus(ctx context.Context, id int) (*ImportStatus, error) {
	var st ImportStatus
	if err := p.client.GetJSON(ctx, fmt.Sprintf("/projects/%d/import", id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
