package migration

import (
	"context"

	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

// ImportAPI is the target-side import surface of a kind.
type ImportAPI interface {
	Import(ctx context.Context, req platform.ImportRequest) (*platform.ImportResponse, error)
}

// ImportStatusAPI is implemented by kinds whose imports can be polled.
type ImportStatusAPI interface {
	ImportStatus(ctx context.Context, id int) (*platform.ImportStatus, error)
}

// ImportController uploads archives (or creates records) on the target
// and follows the resulting import job.
type ImportController struct {
	api  ImportAPI
	poll PollConfig
	log  *zap.SugaredLogger
}

// NewImportController creates an ImportController.
func NewImportController(api ImportAPI, poll PollConfig, log *zap.SugaredLogger) *ImportController {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ImportController{api: api, poll: poll, log: log}
}

// Polls reports whether the kind's imports run asynchronously and are
// followed to a terminal status.
func (c *ImportController) Polls() bool {
	_, ok := c.api.(ImportStatusAPI)
	return ok
}

// Trigger starts an import. The returned warning is a non-fatal follow-up
// failure, such as a user that could not be blocked.
func (c *ImportController) Trigger(ctx context.Context, req platform.ImportRequest) (*models.ImportJob, string, error) {
	resp, err := c.api.Import(ctx, req)
	if err != nil {
		return nil, "", err
	}
	return &models.ImportJob{TargetID: resp.ID, Status: models.JobTriggered}, resp.Warning, nil
}

// AwaitCompletion polls the import until it finishes or fails and records
// the terminal state on job. Imports that cannot be polled are considered
// finished once accepted.
func (c *ImportController) AwaitCompletion(ctx context.Context, job *models.ImportJob) error {
	sa, ok := c.api.(ImportStatusAPI)
	if !ok || job.TargetID == 0 {
		job.Status = models.JobFinished
		return nil
	}
	return c.poll.poll(ctx, func() (bool, error) {
		st, err := sa.ImportStatus(ctx, job.TargetID)
		if err != nil {
			return false, err
		}
		job.Status = models.ParseJobStatus(st.ImportStatus)
		if job.Status == models.JobFailed {
			job.Error = st.ImportError
			job.FailedRelations = st.FailedRelations
		}
		return job.Status.Terminal(), nil
	}, func(attempt int) {
		c.log.Debugw("import pending", "target_id", job.TargetID, "status", job.Status, "attempt", attempt)
	})
}
