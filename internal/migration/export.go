package migration

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// DefaultGroupExportGrace is how long a group export is given before the
// archive is downloaded. Group exports expose no status endpoint.
const DefaultGroupExportGrace = 5 * time.Second

// ErrExportFailed is returned when the source reports the export failed.
var ErrExportFailed = errors.New("export failed")

// ExportAPI is the source-side export surface of a kind.
type ExportAPI interface {
	Export(ctx context.Context, id int) error
	ExportDownload(ctx context.Context, id int, w io.Writer) (int64, error)
}

// ExportStatusAPI is implemented by kinds whose exports can be polled.
type ExportStatusAPI interface {
	ExportStatus(ctx context.Context, id int) (models.JobStatus, error)
}

// ExportController schedules exports on the source, waits for them and
// persists the resulting archive.
type ExportController struct {
	api   ExportAPI
	store *artifact.Store
	poll  PollConfig
	grace time.Duration
	log   *zap.SugaredLogger
}

// NewExportController creates an ExportController writing into store.
func NewExportController(api ExportAPI, store *artifact.Store, poll PollConfig, grace time.Duration, log *zap.SugaredLogger) *ExportController {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ExportController{api: api, store: store, poll: poll, grace: grace, log: log}
}

func (c *ExportController) clock() clock.Clock {
	return c.poll.clock()
}

// Trigger schedules an export of rec. Any 2xx answer is accepted.
func (c *ExportController) Trigger(ctx context.Context, rec models.ResourceRecord) (*models.ExportJob, error) {
	if err := c.api.Export(ctx, rec.ID); err != nil {
		return nil, err
	}
	return &models.ExportJob{ResourceID: rec.ID, Status: models.JobTriggered}, nil
}

// AwaitCompletion blocks until the export is ready to download. Kinds
// without an export status endpoint wait out the grace period.
func (c *ExportController) AwaitCompletion(ctx context.Context, job *models.ExportJob) error {
	sa, ok := c.api.(ExportStatusAPI)
	if !ok {
		if err := sleep(ctx, c.clock(), c.grace); err != nil {
			return err
		}
		job.Status = models.JobFinished
		return nil
	}

	err := c.poll.poll(ctx, func() (bool, error) {
		st, err := sa.ExportStatus(ctx, job.ResourceID)
		if err != nil {
			return false, err
		}
		job.Status = st
		return st.Terminal(), nil
	}, func(attempt int) {
		c.log.Debugw("export pending", "id", job.ResourceID, "status", job.Status, "attempt", attempt)
	})
	if err != nil {
		return err
	}
	if job.Status == models.JobFailed {
		return errors.Wrapf(ErrExportFailed, "resource %d", job.ResourceID)
	}
	return nil
}

// Download streams the archive of a finished export into the content
// store and records its path on job. Any failure is fatal to the run.
func (c *ExportController) Download(ctx context.Context, job *models.ExportJob, name string) error {
	path, n, err := c.store.Save(name, func(w io.Writer) (int64, error) {
		return c.api.ExportDownload(ctx, job.ResourceID, w)
	})
	if err != nil {
		return errors.WithHint(err, "check the result directory is writable and the source export is still available")
	}
	job.Artifact = path
	c.log.Infow("downloaded export", "id", job.ResourceID, "file", path, "bytes", n)
	return nil
}
