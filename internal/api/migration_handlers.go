package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/history"
	"github.com/rflorenc/gitlab-migrator/internal/logging"
	"github.com/rflorenc/gitlab-migrator/internal/migration"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

// RunRequest starts an export-to-import run between two registered
// instances.
type RunRequest struct {
	Kind          models.Kind `json:"kind"`
	SourceID      string      `json:"source_id"`
	DestinationID string      `json:"destination_id"`
}

// RunMigration starts an async migration job and returns its id. Only one
// run per kind may import into a destination at a time; a second one gets
// 409.
func (s *Server) RunMigration(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "kind must be one of group, project, user")
		return
	}
	if req.SourceID == req.DestinationID {
		writeError(w, http.StatusBadRequest, "source and destination must differ")
		return
	}
	src := s.Connections.Get(req.SourceID)
	if src == nil {
		writeError(w, http.StatusNotFound, "source instance not found")
		return
	}
	dst := s.Connections.Get(req.DestinationID)
	if dst == nil {
		writeError(w, http.StatusNotFound, "destination instance not found")
		return
	}

	job, err := s.Jobs.CreateRun(req.Kind, req.SourceID, req.DestinationID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	ctx, cancel := context.WithCancel(s.baseContext())
	job.SetCancel(cancel)

	go func() {
		defer cancel()
		s.runJob(ctx, job, *src, *dst)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

// runJob drives one migration run to a terminal job status and stores it
// in the history database.
func (s *Server) runJob(ctx context.Context, job *models.Job, src, dst models.Connection) {
	log := logging.ForJob(s.logger(), job).With("job", job.ID)
	ledger := migration.NewLedger()
	job.SetResults(ledger)

	log.Infow("migrating "+string(job.Kind)+"s", "source", src.Name, "target", dst.Name)
	err := s.migrate(ctx, job.Kind, &src, &dst, ledger, log)
	switch {
	case err == nil:
		job.Complete()
	case errors.Is(err, context.Canceled):
		job.Cancelled()
	default:
		log.Errorw("migration aborted", "error", err)
		job.Fail(err.Error())
	}

	s.saveHistory(job, src.Name, dst.Name, ledger, log)
}

func (s *Server) migrate(ctx context.Context, kind models.Kind, src, dst *models.Connection, ledger *migration.Ledger, log *zap.SugaredLogger) error {
	srcClient, dstClient := platform.NewClient(src), platform.NewClient(dst)
	migration.LogVersions(ctx, kind, srcClient, dstClient, log)

	var store *artifact.Store
	if kind != models.KindUser {
		var err error
		store, err = artifact.Open(filepath.Join(s.ResultDir, "export", string(kind)))
		if err != nil {
			return err
		}
	}
	policy, err := migration.NewPolicy(kind, srcClient, dstClient, store, s.Settings, log)
	if err != nil {
		return err
	}
	return migration.New(migration.Options{Logger: log}).Run(ctx, policy, ledger)
}

func (s *Server) saveHistory(job *models.Job, source, target string, ledger *migration.Ledger, log *zap.SugaredLogger) {
	if s.History == nil {
		return
	}
	snap := job.Snapshot()
	finished := time.Now()
	if snap.FinishedAt != nil {
		finished = *snap.FinishedAt
	}
	run := history.Run{
		ID:         snap.ID,
		Kind:       snap.Kind,
		Source:     source,
		Target:     target,
		Status:     snap.Status,
		Error:      snap.Error,
		StartedAt:  snap.StartedAt,
		FinishedAt: finished,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.History.SaveRun(ctx, run, ledger.Entries()); err != nil {
		log.Errorw("failed to save run history", "error", err)
	}
}
