package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rflorenc/gitlab-migrator/internal/artifact"
	"github.com/rflorenc/gitlab-migrator/internal/migration"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
	"github.com/rflorenc/gitlab-migrator/internal/report"
)

func (a *app) userExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user:export url access_token [file]",
		Short: "Write every user of an instance to a JSON file",
		Long: `Write every user of an instance, ordered by id, to a JSON file. Without
a file argument a timestamped file is created under result_dir. An existing
file is never overwritten.`,
		Args: rangeArgs(2, 3),
		RunE: a.exportUsers,
	}
}

func (a *app) exportUsers(cmd *cobra.Command, args []string) error {
	conn, err := a.instance("export", args[0], args[1])
	if err != nil {
		return err
	}
	file := ""
	if len(args) == 3 {
		file = args[2]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := artifact.Open(a.cfg.ResultPath("export", models.KindUser))
	if err != nil {
		return errors.WithHint(err, "check that result_dir is writable")
	}
	settings := a.cfg.Settings()
	users := migration.NewEnumerator(platform.NewUsers(platform.NewClient(conn)), settings.PerPage, settings.PaceBase, a.log)
	path, n, err := migration.ExportUsers(ctx, users, store, file)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("exported %d users to %s", n, path))
	return nil
}

func (a *app) userImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user:import url access_token file",
		Short: "Create the users of a user:export file on an instance",
		Long: `Create the users of a user:export file on an instance, in id order. Bots
and the administrator are skipped, users that already exist are reported as
warnings and blocked users are blocked again after creation. The results are
written as CSV under result_dir.`,
		Args: exactArgs(3),
		RunE: a.importUsers,
	}
}

func (a *app) importUsers(cmd *cobra.Command, args []string) error {
	conn, err := a.instance("import", args[0], args[1])
	if err != nil {
		return err
	}
	source, err := migration.LoadUsers(args[2])
	if err != nil {
		return err
	}
	if err := a.printSource(cmd, models.KindUser, source); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := artifact.Open(a.cfg.ResultPath("import", models.KindUser))
	if err != nil {
		return errors.WithHint(err, "check that result_dir is writable")
	}
	dst := platform.NewClient(conn)
	migration.LogVersions(ctx, models.KindUser, nil, dst, a.log)
	policy := migration.UserPolicy(source, dst, a.cfg.Settings(), a.log)

	ledger, runErr := a.run(ctx, cmd, policy, args[2], conn.Name)
	path, err := report.SaveCSV(store, models.KindUser, ledger.Entries())
	if err != nil {
		return errors.CombineErrors(runErr, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("results written to %s", path))
	return runErr
}
