package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rflorenc/gitlab-migrator/internal/config"
	"github.com/rflorenc/gitlab-migrator/internal/logging"
	"github.com/rflorenc/gitlab-migrator/internal/migration"
	"github.com/rflorenc/gitlab-migrator/internal/models"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// app carries the global flags and the state prepared before every command.
type app struct {
	configPath  string
	logJSON     bool
	verbose     bool
	indexTarget bool

	cfg *config.Config
	log *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "glmigrate",
		Short: "Migrate GitLab groups, projects and users between instances",
		Long: `glmigrate copies groups, projects and users from one GitLab instance to
another through the export/import API. Every resource ends with exactly one
result line (success, warning, skipped, error or timed_out) and resources
already present on the target are never imported twice.

Examples:
  glmigrate group:export2import https://old.example.com $OLD_TOKEN https://new.example.com $NEW_TOKEN
  glmigrate project:export2import old - new -     # instances from --config
  glmigrate user:export https://old.example.com $OLD_TOKEN users.json
  glmigrate user:import https://new.example.com $NEW_TOKEN users.json
  glmigrate serve --config glmigrate.yaml`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "Write logs as JSON")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.indexTarget, "index-target", false, "List the target once and match resources exactly instead of searching per resource")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return invalidInput(err)
	})

	root.AddCommand(
		a.export2importCmd(models.KindGroup),
		a.export2importCmd(models.KindProject),
		a.userExportCmd(),
		a.userImportCmd(),
		a.serveCmd(),
		versionCmd(),
	)
	return root
}

// setup loads the config file, applies flag overrides and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return invalidInput(err)
	}
	if f := cmd.Flag("log-json"); f != nil && f.Changed {
		cfg.LogJSON = a.logJSON
	}
	if f := cmd.Flag("verbose"); f != nil && f.Changed {
		cfg.Verbose = a.verbose
	}
	if f := cmd.Flag("index-target"); f != nil && f.Changed {
		cfg.IndexTarget = a.indexTarget
	}
	log, err := logging.New(cfg.LogJSON, cfg.Verbose)
	if err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	a.cfg, a.log = cfg, log
	return nil
}

// instance resolves a positional url/token pair. A configured instance
// name may stand in for the url; a token of "-" then keeps its token.
func (a *app) instance(role, target, token string) (*models.Connection, error) {
	if ic, ok := a.cfg.Instance(target); ok {
		conn := ic.Connection()
		if token != "-" {
			conn.Token = token
		}
		return conn, nil
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, invalidInput(errors.Newf("%s url %q is not an http(s) address or a configured instance", role, target))
	}
	if token == "" || token == "-" {
		return nil, invalidInput(errors.Newf("%s access token is required", role))
	}
	return &models.Connection{Name: u.Host, URL: target, Token: token}, nil
}

func invalidInput(err error) error {
	return errors.Mark(err, migration.ErrInvalidInput)
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return invalidInput(err)
		}
		return nil
	}
}

func rangeArgs(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(min, max)(cmd, args); err != nil {
			return invalidInput(err)
		}
		return nil
	}
}

// exitCode maps a command error to the process status: 2 for input that
// can never succeed, 1 for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, migration.ErrInvalidInput):
		return 2
	}
	return 1
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "Hint:", hint)
		}
	}
	os.Exit(exitCode(err))
}
