package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renderinc/helpdesk-search/internal/answer"
	"github.com/renderinc/helpdesk-search/internal/config"
	"github.com/renderinc/helpdesk-search/internal/ingest"
	"github.com/renderinc/helpdesk-search/internal/llm"
	"github.com/renderinc/helpdesk-search/internal/lock"
	"github.com/renderinc/helpdesk-search/internal/metrics"
	"github.com/renderinc/helpdesk-search/internal/normalize"
	"github.com/renderinc/helpdesk-search/internal/retrieval"
	"github.com/renderinc/helpdesk-search/internal/search"
	"github.com/renderinc/helpdesk-search/internal/storage"
	"github.com/renderinc/helpdesk-search/internal/storage/postgres"
	"github.com/renderinc/helpdesk-search/internal/upstream"
)

// maintenanceTTL bounds how long a crashed process keeps the maintenance lock
const maintenanceTTL = 10 * time.Minute

// app holds the components shared by the commands
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	metrics *metrics.Metrics
	store   storage.Store
	sqlite  *storage.DB // nil on PostgreSQL
	locker  lock.Locker

	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openLocker(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// openStore selects PostgreSQL for postgres:// URLs and SQLite with a Bleve index otherwise
func (a *app) openStore(ctx context.Context) error {
	if postgres.IsURL(a.cfg.DatabaseURL) {
		db, err := postgres.Open(ctx, a.cfg.DatabaseURL, a.cfg.SearchLanguage, a.log)
		if err != nil {
			return err
		}
		a.store = db
		a.closers = append(a.closers, db.Close)
		a.log.Info("Using PostgreSQL document store")
		return nil
	}

	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	idx, err := search.Open(filepath.Join(a.cfg.DataDir, "index"), a.cfg.SearchLanguage)
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}
	db, err := storage.Open(a.cfg.DatabaseURL, idx, a.log)
	if err != nil {
		idx.Close()
		return err
	}
	a.store = db
	a.sqlite = db
	a.closers = append(a.closers, db.Close)
	a.log.WithField("path", a.cfg.DatabaseURL).Info("Using SQLite document store")
	return nil
}

// openLocker uses Redis when configured so that several replicas share the maintenance lock
func (a *app) openLocker(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		a.locker = lock.NewLocal()
		return nil
	}

	r, err := lock.NewRedis(ctx, a.cfg.RedisURL, a.log)
	if err != nil {
		return err
	}
	a.locker = r
	a.closers = append(a.closers, r.Close)
	return nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) retrieval() *retrieval.Engine {
	return retrieval.NewEngine(a.store, a.metrics, a.log)
}

func (a *app) answers(engine *retrieval.Engine) (*answer.Pipeline, error) {
	provider, err := llm.NewProvider(llm.Config{
		Provider: a.cfg.LLM.Provider,
		BaseURL:  a.cfg.LLM.BaseURL,
		APIKey:   a.cfg.LLM.APIKey,
		Model:    a.cfg.LLM.Model,
		Timeout:  a.cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return answer.NewPipeline(engine, provider, answer.Options{
		Prompt: answer.Prompt{
			Role:          a.cfg.Prompt.Role,
			Directive:     a.cfg.Prompt.Directive,
			QuestionLabel: a.cfg.Prompt.QuestionLabel,
		},
		Temperature: a.cfg.LLM.Temperature,
		Metrics:     a.metrics,
	}, a.log), nil
}

func (a *app) coordinator() (*ingest.Coordinator, error) {
	client, err := upstream.NewClient(a.cfg.Upstream.BaseURL)
	if err != nil {
		return nil, err
	}

	var scheduler ingest.Scheduler = ingest.Sequential{Delay: a.cfg.Ingest.Delay}
	if a.cfg.Ingest.Concurrency > 1 {
		scheduler = ingest.Bounded{Concurrency: a.cfg.Ingest.Concurrency, Interval: a.cfg.Ingest.Delay}
	}

	domains := append([]string{a.cfg.Upstream.BaseURL}, a.cfg.Upstream.LegacyDomains...)
	pipeline := ingest.NewPipeline(client, a.store, normalize.New(domains...), ingest.Options{
		PublicBaseURL: a.cfg.PublicBaseURL,
		Scheduler:     scheduler,
		Retry:         ingest.Retry{Attempts: a.cfg.Ingest.Retries},
		Metrics:       a.metrics,
	}, a.log)

	return ingest.NewCoordinator(pipeline, a.locker, maintenanceTTL, a.log), nil
}

// migrate ensures the schema under the maintenance lock
func (a *app) migrate(ctx context.Context) (storage.SchemaResult, error) {
	release, err := a.locker.TryLock(ctx, lock.Maintenance, maintenanceTTL)
	if err != nil {
		return storage.SchemaUnchanged, err
	}
	defer release()

	result, err := a.store.EnsureSchema(ctx)
	if err != nil {
		return result, err
	}
	a.metrics.RecordSchema(result.String())
	if n, err := a.store.Count(ctx); err == nil {
		a.metrics.SetDocumentsStored(n)
	}
	if result == storage.SchemaRecreated {
		a.log.Warn("Legacy documents table recreated, stored documents were dropped")
	}
	return result, nil
}
