package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/renderinc/helpdesk-search/internal/jobs"
	"github.com/renderinc/helpdesk-search/internal/web"
)

func serveCmd() *cobra.Command {
	var host string
	var port int

	command := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				if err := os.Setenv("HOST", host); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("port") {
				if err := os.Setenv("PORT", strconv.Itoa(port)); err != nil {
					return err
				}
			}
			return runServe(cmd.Context())
		},
	}

	command.Flags().StringVar(&host, "host", "0.0.0.0", "Host to bind to")
	command.Flags().IntVar(&port, "port", 3000, "Port to listen on")
	return command
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.migrate(ctx)
	if err != nil {
		return err
	}
	a.log.WithField("result", result.String()).Info("Schema ready")

	engine := a.retrieval()
	answers, err := a.answers(engine)
	if err != nil {
		return err
	}
	coordinator, err := a.coordinator()
	if err != nil {
		return err
	}

	if a.cfg.Ingest.Schedule != "" {
		runner := jobs.NewRunner(a.log, jobs.NewIngestJob(coordinator, a.cfg.Ingest.Schedule, a.cfg.Ingest.Timeout, a.log))
		if err := runner.Start(); err != nil {
			return err
		}
		defer runner.Stop()
	}

	server := web.NewServer(web.Options{
		Store:          a.store,
		Retrieval:      engine,
		Answers:        answers,
		Ingest:         coordinator,
		Locker:         a.locker,
		Metrics:        a.metrics,
		AllowedOrigins: a.cfg.Server.CORSAllowedOrigins,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		MigrateTTL:     maintenanceTTL,
	}, a.log)

	httpServer := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logrus.Fields{
			"addr":     httpServer.Addr,
			"provider": a.cfg.LLM.Provider,
		}).Info("Server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
