// Package migration moves groups, projects and users between two GitLab
// instances. Each resource goes through export, download, an existence
// check on the target and import, and ends as exactly one ledger entry.
package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

// Options configure an Orchestrator.
type Options struct {
	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// Orchestrator drives one resource at a time through the migration
// pipeline. Per-resource failures are recorded in the ledger; only
// enumeration and content store failures (and cancellation) abort a run.
type Orchestrator struct {
	clock clock.Clock
	log   *zap.SugaredLogger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{clock: opts.Clock, log: opts.Logger}
	if o.clock == nil {
		o.clock = clock.WallClock
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	return o
}

// verdict is the terminal decision for one resource.
type verdict struct {
	outcome models.Outcome
	state   models.ResourceState
	target  int
	message string
}

// Run migrates every record yielded by p.Source, appending one entry per
// record to ledger. A returned error is fatal; entries appended before it
// remain valid.
func (o *Orchestrator) Run(ctx context.Context, p *Policy, ledger *Ledger) error {
	o.log.Infow("migration started", "kind", p.Kind)
	n := 0
	for rec, err := range p.Source.Records(ctx) {
		if err != nil {
			return errors.Wrapf(err, "enumerating source %ss", p.Kind)
		}
		if n > 0 {
			if err := sleep(ctx, o.clock, p.ItemDelay); err != nil {
				return err
			}
		}
		n++

		v, err := o.migrate(ctx, p, rec)
		if err != nil {
			return err
		}
		o.finalize(ledger, p, rec, v)
	}

	counts := ledger.Counts()
	o.log.Infow("migration finished", "kind", p.Kind, "records", n,
		"success", counts[models.OutcomeSuccess],
		"warning", counts[models.OutcomeWarning],
		"skipped", counts[models.OutcomeSkipped],
		"error", counts[models.OutcomeError],
		"timed_out", counts[models.OutcomeTimedOut])
	return nil
}

// migrate runs the pipeline for rec. Only fatal conditions are returned
// as errors.
func (o *Orchestrator) migrate(ctx context.Context, p *Policy, rec models.ResourceRecord) (verdict, error) {
	log := o.log.With("kind", p.Kind, "id", rec.ID, "name", displayName(p.Kind, rec))
	name, path := displayName(p.Kind, rec), rec.DisplayPath(p.Kind)
	state := models.StatePending
	advance := func(s models.ResourceState) {
		state = s
		log.Debugw("resource state", "state", s)
	}

	if p.Reserved != nil {
		if msg, ok := p.Reserved(rec); ok {
			return verdict{outcome: models.OutcomeSkipped, state: models.StateSkipped, message: msg}, nil
		}
	}

	var file string
	if p.Export != nil {
		job, err := p.Export.Trigger(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return verdict{}, ctx.Err()
			}
			return failure(models.StateTriggerError, "Export %s: %s(path: %s) error: %s", p.Kind, name, path, describe(err)), nil
		}
		advance(models.StateExported)

		if err := p.Export.AwaitCompletion(ctx, job); err != nil {
			switch {
			case ctx.Err() != nil:
				return verdict{}, ctx.Err()
			case errors.Is(err, ErrTimedOut):
				return verdict{
					outcome: models.OutcomeTimedOut,
					state:   models.StateTimedOut,
					message: fmt.Sprintf("Export %s: %s(path: %s) timed out waiting for the export", p.Kind, name, path),
				}, nil
			case errors.Is(err, ErrExportFailed):
				return failure(models.StatePolledFailed, "Export %s: %s(path: %s) failed", p.Kind, name, path), nil
			}
			return failure(models.StatePolledFailed, "Export %s: %s(path: %s) status error: %s", p.Kind, name, path, describe(err)), nil
		}

		if err := p.Export.Download(ctx, job, rec.Name); err != nil {
			return verdict{}, errors.Wrapf(err, "%s %s", p.Kind, path)
		}
		file = job.Artifact
		advance(models.StateDownloaded)
	}

	match, err := p.Checker.Find(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return verdict{}, ctx.Err()
		}
		return failure(state, "Check whether the %s: %s exists failed: %s", p.Kind, name, describe(err)), nil
	}
	if match != nil {
		v := verdict{
			outcome: p.MatchOutcome,
			state:   models.StateSkipped,
			message: fmt.Sprintf("%s: %s(path: %s) exists, do not import", p.Kind.Title(), name, path),
		}
		if p.MatchOutcome == models.OutcomeWarning {
			v.target = match.ID
		}
		return v, nil
	}
	advance(models.StateChecked)
	log.Debugw("not present on target")

	job, warning, err := p.Import.Trigger(ctx, p.Request(rec, file))
	if err != nil {
		if ctx.Err() != nil {
			return verdict{}, ctx.Err()
		}
		if p.Kind == models.KindUser {
			return failure(models.StateTriggerError, "User %s(%s) create failed: %s", rec.Username, rec.Email, platform.ErrorMessage(err)), nil
		}
		return failure(models.StateTriggerError, "Import %s: %s(path: %s) error: %s", p.Kind, name, path, describe(err)), nil
	}
	advance(models.StateImported)
	if job.TargetID != 0 {
		p.Checker.Remember(rec, job.TargetID)
	}

	if err := p.Import.AwaitCompletion(ctx, job); err != nil {
		switch {
		case ctx.Err() != nil:
			return verdict{}, ctx.Err()
		case errors.Is(err, ErrTimedOut):
			return verdict{
				outcome: models.OutcomeTimedOut,
				state:   models.StateTimedOut,
				target:  job.TargetID,
				message: fmt.Sprintf("Import %s: %s(path: %s) timed out, last status: %s", p.Kind, name, path, job.Status),
			}, nil
		}
		v := failure(models.StatePolledFailed, "Import %s: %s(path: %s) status error: %s", p.Kind, name, path, describe(err))
		v.target = job.TargetID
		return v, nil
	}

	if job.Status == models.JobFailed {
		msg := fmt.Sprintf("Import %s: %s(path: %s) failed, error msg: %s", p.Kind, name, path, job.Error)
		if rel := failedRelations(job.FailedRelations); rel != "" {
			msg += ", failed relations: " + rel
		}
		return verdict{outcome: models.OutcomeError, state: models.StatePolledFailed, target: job.TargetID, message: msg}, nil
	}

	v := verdict{outcome: models.OutcomeSuccess, state: models.StatePolledFinished, target: job.TargetID}
	switch {
	case p.Kind == models.KindUser && warning != "":
		v.outcome, v.message = models.OutcomeWarning, warning
	case p.Kind == models.KindUser && rec.State == "blocked":
		v.message = fmt.Sprintf("User %s(%s) import success, user has been blocked", rec.Username, rec.Email)
	case p.Kind == models.KindUser:
		v.message = fmt.Sprintf("User %s(%s) import success", rec.Username, rec.Email)
	case !p.Import.Polls():
		v.message = fmt.Sprintf("Import %s: %s(path: %s) schedule create success", p.Kind, name, path)
	default:
		v.message = fmt.Sprintf("Import %s: %s(path: %s) finished", p.Kind, name, path)
	}
	return v, nil
}

// failedRelations returns the relations the target failed to import, or ""
// when it reported none (absent, null or an empty array).
func failedRelations(raw json.RawMessage) string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil && len(items) == 0 {
		return ""
	}
	return string(bytes.TrimSpace(raw))
}

// finalize is the single exit of every resource: it appends the ledger
// entry and logs it.
func (o *Orchestrator) finalize(ledger *Ledger, p *Policy, rec models.ResourceRecord, v verdict) {
	entry := models.MigrationResult{
		Kind:     p.Kind,
		SourceID: rec.ID,
		Name:     displayName(p.Kind, rec),
		Path:     rec.DisplayPath(p.Kind),
		Outcome:  v.outcome,
		Message:  v.message,
		At:       o.clock.Now(),
	}
	if v.target > 0 {
		id := v.target
		entry.TargetID = &id
	}
	ledger.Append(entry)

	log := o.log.With("kind", p.Kind, "id", rec.ID, "state", v.state, "outcome", v.outcome)
	switch v.outcome {
	case models.OutcomeError, models.OutcomeTimedOut:
		log.Error(v.message)
	case models.OutcomeWarning, models.OutcomeSkipped:
		log.Warn(v.message)
	default:
		log.Info(v.message)
	}
	log.Debugw("resource state", "state", models.StateLedgered)
}

func failure(state models.ResourceState, format string, args ...interface{}) verdict {
	return verdict{outcome: models.OutcomeError, state: state, message: fmt.Sprintf(format, args...)}
}

// describe renders an error as "status - message" the way GitLab clients
// report API failures.
func describe(err error) string {
	return fmt.Sprintf("%d - %s", platform.StatusCode(err), platform.ErrorMessage(err))
}

func displayName(kind models.Kind, rec models.ResourceRecord) string {
	if kind == models.KindUser {
		return rec.Username
	}
	return rec.Name
}

// LogVersions probes both instances and logs their versions. A target
// older than the first release supporting kind imports is reported but
// does not stop the run.
func LogVersions(ctx context.Context, kind models.Kind, src, dst *platform.Client, log *zap.SugaredLogger) {
	if log == nil {
		return
	}
	for _, side := range []struct {
		label  string
		client *platform.Client
	}{{"source", src}, {"target", dst}} {
		if side.client == nil {
			continue
		}
		v, err := side.client.Version(ctx)
		if err != nil {
			log.Warnw("version probe failed", "instance", side.label, "url", side.client.BaseURL(), "error", err)
			continue
		}
		log.Infow("GitLab version", "instance", side.label, "version", v.Version, "revision", v.Revision)
		if !platform.SupportsKind(v.Version, kind) {
			log.Warnw("instance may not support this migration", "instance", side.label, "kind", kind, "version", v.Version)
		}
	}
}
