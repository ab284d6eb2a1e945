package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/rflorenc/gitlab-migrator/internal/api"
	"github.com/rflorenc/gitlab-migrator/internal/history"
	"github.com/rflorenc/gitlab-migrator/internal/models"
	"github.com/rflorenc/gitlab-migrator/internal/platform"
)

func (a *app) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for running migrations as background jobs",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.Listen = listen
			}
			return a.serve(cmd)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "Address to listen on")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conns := models.NewConnectionStore()
	for _, ic := range a.cfg.Instances {
		conn := ic.Connection()
		conns.Create(conn)
		// unreachable instances stay registered with an error status
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		platform.ProbeAndStore(probeCtx, platform.NewClient(conn), conn, conns, a.log)
		cancel()
	}

	var hist *history.Store
	if a.cfg.HistoryDB != "" {
		var err error
		hist, err = history.Open(a.cfg.HistoryDB, a.log)
		if err != nil {
			return errors.WithHint(err, "set history_db to a writable path or leave it empty")
		}
		defer hist.Close()
	}

	server := &api.Server{
		Connections: conns,
		Jobs:        models.NewJobStore(),
		History:     hist,
		Settings:    a.cfg.Settings(),
		ResultDir:   a.cfg.ResultDir,
		Log:         a.log,
		BaseContext: ctx,
	}
	httpServer := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           api.NewRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	pterm.Info.Printfln("glmigrate %s listening on %s", version, a.cfg.Listen)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	a.log.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
