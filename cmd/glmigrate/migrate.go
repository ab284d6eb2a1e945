package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/history"
	"github.com/rflorenc/gitlab-migrator/internal/migration"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
	"github.com/rflorenc/gitlab-migrator/internal/report"
)

func (a *app) export2importCmd(kind models.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind) + ":export2import export_url export_access_token import_url import_access_token",
		Short: fmt.Sprintf("Export every %s from one instance and import it into another", kind),
		Args:  exactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.export2import(cmd, kind, args)
		},
	}
}

func (a *app) export2import(cmd *cobra.Command, kind models.Kind, args []string) error {
	src, err := a.instance("export", args[0], args[1])
	if err != nil {
		return err
	}
	dst, err := a.instance("import", args[2], args[3])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := artifact.Open(a.cfg.ResultPath("export", kind))
	if err != nil {
		return errors.WithHint(err, "check that result_dir is writable")
	}
	settings := a.cfg.Settings()
	srcClient, dstClient := platform.NewClient(src), platform.NewClient(dst)
	migration.LogVersions(ctx, kind, srcClient, dstClient, a.log)

	policy, err := migration.NewPolicy(kind, srcClient, dstClient, store, settings, a.log)
	if err != nil {
		return err
	}

	// the listing is printed before anything is exported
	enum := migration.NewEnumerator(platform.ForKind(srcClient, kind), settings.PerPage, settings.PaceBase, a.log)
	records, err := migration.All(enum.Records(ctx, migration.SourceOptions(kind)))
	if err != nil {
		return errors.Wrapf(err, "enumerating source %ss", kind)
	}
	if err := a.printSource(cmd, kind, records); err != nil {
		return err
	}
	policy.Source = migration.SliceSource(records)

	_, err = a.run(ctx, cmd, policy, src.Name, dst.Name)
	return err
}

// run executes policy, prints the ledger and records the run in the
// history database when one is configured.
func (a *app) run(ctx context.Context, cmd *cobra.Command, policy *migration.Policy, source, target string) (*migration.Ledger, error) {
	ledger := migration.NewLedger()
	started := time.Now()
	runErr := migration.New(migration.Options{Logger: a.log}).Run(ctx, policy, ledger)
	finished := time.Now()

	table, err := report.ResultTable(ledger.Entries())
	if err != nil {
		return ledger, err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, table)
	fmt.Fprintln(out, report.Summary(ledger.Counts()))
	if ledger.Failed() {
		a.log.Warnw("some resources were not migrated", "kind", policy.Kind, "failed", len(ledger.Filter(models.OutcomeError, models.OutcomeTimedOut)))
	}

	status, errMsg := models.JobStatusCompleted, ""
	switch {
	case errors.Is(runErr, context.Canceled):
		status, errMsg = models.JobStatusCancelled, runErr.Error()
	case runErr != nil:
		status, errMsg = models.JobStatusFailed, runErr.Error()
	}
	a.saveHistory(history.Run{
		ID:         uuid.NewString(),
		Kind:       policy.Kind,
		Source:     source,
		Target:     target,
		Status:     status,
		Error:      errMsg,
		StartedAt:  started,
		FinishedAt: finished,
	}, ledger)
	return ledger, runErr
}

func (a *app) saveHistory(run history.Run, ledger *migration.Ledger) {
	if a.cfg.HistoryDB == "" {
		return
	}
	hist, err := history.Open(a.cfg.HistoryDB, a.log)
	if err != nil {
		a.log.Errorw("run history unavailable", "error", err)
		return
	}
	defer hist.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hist.SaveRun(ctx, run, ledger.Entries()); err != nil {
		a.log.Errorw("failed to save run history", "error", err)
	}
}

func (a *app) printSource(cmd *cobra.Command, kind models.Kind, records []models.ResourceRecord) error {
	table, err := report.SourceTable(kind, records)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d source %ss\n%s\n", len(records), kind, table)
	return nil
}
