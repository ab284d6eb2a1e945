package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// Groups wraps the group endpoints. Group exports have no status endpoint.
type Groups struct {
	client *Client
}

// NewGroups creates a Groups API on c.
func NewGroups(c *Client) *Groups {
	return &Groups{client: c}
}

func (g *Groups) Kind() models.Kind { return models.KindGroup }

// ListPage fetches one page of GET /groups.
func (g *Groups) ListPage(ctx context.Context, opts ListOptions) (*Page, error) {
	if err := opts.Validate(models.KindGroup); err != nil {
		return nil, err
	}
	return g.client.GetPage(ctx, "/groups", opts.Values())
}

// Export schedules a group export. The remote answers 202 without a job id.
func (g *Groups) Export(ctx context.Context, id int) error {
	_, _, err := g.client.Post(ctx, fmt.Sprintf("/groups/%d/export", id), nil)
	return err
}

// ExportDownload streams the finished export archive into w.
func (g *Groups) ExportDownload(ctx context.Context, id int, w io.Writer) (int64, error) {
	return g.client.Download(ctx, fmt.Sprintf("/groups/%d/export/download", id), w)
}

// Import uploads a group archive. The remote schedules the import and
// returns 202 without a group id.
func (g *Groups) Import(ctx context.Context, req ImportRequest) (*ImportResponse, error) {
	if req.ParentID < 0 {
		return nil, errors.Newf("parent_id must be positive, got %d", req.ParentID)
	}
	fields := url.Values{
		"name": {req.Name},
		"path": {req.Path},
	}
	if req.ParentID > 0 {
		fields.Set("parent_id", strconv.Itoa(req.ParentID))
	}
	body, err := g.client.PostFile(ctx, "/groups/import", fields, req.Artifact)
	if err != nil {
		return nil, err
	}
	resp := &ImportResponse{Raw: body}
	var created struct {
		ID int `json:"id"`
	}
	if json.Unmarshal(body, &created) == nil {
		resp.ID = created.ID
	}
	return resp, nil
}
