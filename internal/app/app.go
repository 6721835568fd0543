// Package app initializes and holds long-lived pipeline services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-policy-docs/internal/api"
	"github.com/JakeFAU/ai-policy-docs/internal/classifier"
	"github.com/JakeFAU/ai-policy-docs/internal/clock/system"
	"github.com/JakeFAU/ai-policy-docs/internal/config"
	"github.com/JakeFAU/ai-policy-docs/internal/federalregister"
	"github.com/JakeFAU/ai-policy-docs/internal/id/uuid"
	"github.com/JakeFAU/ai-policy-docs/internal/jobs"
	"github.com/JakeFAU/ai-policy-docs/internal/llm"
	"github.com/JakeFAU/ai-policy-docs/internal/logging"
	"github.com/JakeFAU/ai-policy-docs/internal/metrics"
	"github.com/JakeFAU/ai-policy-docs/internal/policy/ratelimit"
	"github.com/JakeFAU/ai-policy-docs/internal/policy/retry"
	gcppublisher "github.com/JakeFAU/ai-policy-docs/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/ai-policy-docs/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ai-policy-docs/internal/storage/local"
	"github.com/JakeFAU/ai-policy-docs/internal/storage/postgres"
)

const pushTimeout = 10 * time.Second

type closableBlobStore interface {
	jobs.BlobStore
	Close() error
}

type closablePublisher interface {
	jobs.Publisher
	Close() error
}

// App holds the shared services of one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *postgres.DocumentStore
	source   *federalregister.Client
	archive  closableBlobStore
	notifier closablePublisher
	clock    *system.Clock
	ids      *uuid.Generator
}

// New connects every configured backend. It fails fast when the database or
// an explicitly configured archive or topic cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	logger.Info("connecting to postgres")
	store, err := postgres.NewDocumentStore(ctx, postgres.DocumentStoreConfig{
		DSN:              cfg.Database.DSN,
		DocumentsTable:   cfg.Database.DocumentsTable,
		AIDocumentsTable: cfg.Database.AIDocumentsTable,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		InsertBatchSize:  cfg.Sync.InsertBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init document store: %w", err)
	}
	a := NewWithStore(cfg, logger, store)

	if err := a.setupArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupNotifier(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized")
	return a, nil
}

// NewWithStore builds an App around an existing store without archive or
// notifier backends.
func NewWithStore(cfg config.Config, logger *zap.Logger, store *postgres.DocumentStore) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		source: federalregister.New(federalregister.Config{
			BaseURL:           cfg.Source.BaseURL,
			UserAgent:         cfg.Source.UserAgent,
			Timeout:           cfg.Source.Timeout,
			RequestsPerSecond: cfg.Source.RequestsPerSecond,
			Burst:             cfg.Source.Burst,
		}, nil),
		clock: system.New(),
		ids:   uuid.New(),
	}
}

func (a *App) setupArchive(ctx context.Context) error {
	switch {
	case a.cfg.Archive.GCSBucket != "":
		a.logger.Info("archiving search pages to gcs", zap.String("bucket", a.cfg.Archive.GCSBucket))
		store, err := gcsstorage.Connect(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.archive = store
	case a.cfg.Archive.LocalDir != "":
		a.logger.Info("archiving search pages locally", zap.String("dir", a.cfg.Archive.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.archive = store
	}
	return nil
}

func (a *App) setupNotifier(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		return nil
	}
	a.logger.Info("connecting to pubsub", zap.String("topic", a.cfg.PubSub.TopicName))
	pub, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("init pubsub notifier: %w", err)
	}
	a.notifier = pub
	return nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// SyncJob builds the sync job.
func (a *App) SyncJob() *jobs.Sync {
	var archive jobs.BlobStore
	if a.archive != nil {
		archive = a.archive
	}
	return jobs.NewSync(a.source, a.store, archive, a.clock, jobs.SyncConfig{
		Terms:         a.cfg.Sync.Terms,
		LookbackDays:  a.cfg.Sync.LookbackDays,
		PerPage:       a.cfg.Sync.PerPage,
		MaxPages:      a.cfg.Sync.MaxPages,
		ArchivePrefix: a.cfg.Archive.Prefix,
	}, a.logger.Named("sync"))
}

// ClassifyJob builds the classify job around the Anthropic completer and a
// sliding-window pacer.
func (a *App) ClassifyJob() (*jobs.Classify, error) {
	if err := a.cfg.RequireClassifier(); err != nil {
		return nil, err
	}
	completer, err := llm.NewAnthropic(llm.Config{
		APIKey:      a.cfg.Classifier.APIKey,
		BaseURL:     a.cfg.Classifier.BaseURL,
		Model:       a.cfg.Classifier.Model,
		MaxTokens:   a.cfg.Classifier.MaxTokens,
		Temperature: a.cfg.Classifier.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}
	window := ratelimit.NewWindow(
		a.cfg.Classifier.RequestsPerWindow,
		a.cfg.Classifier.Window,
		ratelimit.WithScope("llm"),
	)
	logger := a.logger.Named("classify")
	c := classifier.New(completer, window, classifier.Options{
		MaxAttempts: a.cfg.Classifier.MaxAttempts,
		Logger:      logger,
	})
	var notifier jobs.Publisher
	if a.notifier != nil {
		notifier = a.notifier
	}
	return jobs.NewClassify(a.store, c, notifier, jobs.ClassifyConfig{
		FetchLimit: a.cfg.Classifier.FetchLimit,
		BatchSize:  a.cfg.Classifier.BatchSize,
	}, logger), nil
}

// RefreshJob builds the metrics refresh job.
func (a *App) RefreshJob() (*jobs.Refresh, error) {
	tables, err := ParseTables(a.cfg.Refresh.Tables)
	if err != nil {
		return nil, err
	}
	return jobs.NewRefresh(a.source, a.store, jobs.RefreshConfig{
		Tables:     tables,
		Workers:    a.cfg.Refresh.Workers,
		QueueDepth: a.cfg.Refresh.QueueDepth,
		Retry: retry.Policy{
			MaxAttempts: a.cfg.Refresh.MaxAttempts,
			BaseDelay:   a.cfg.Refresh.BaseDelay,
			Retryable:   federalregister.IsTransient,
		},
	}, a.logger.Named("refresh")), nil
}

// APIServer builds the read API.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.store, a.store, api.Options{
		APIKey: a.cfg.Server.APIKey,
	}, a.logger.Named("api"))
}

// RunJob runs one batch job under a fresh run id, records its outcome and
// pushes the metrics registry when a Pushgateway is configured.
func (a *App) RunJob(ctx context.Context, job string, run func(ctx context.Context, runID string) error) error {
	runID := a.ids.MustRunID()
	logger := logging.ForJob(a.logger, job, runID)
	start := a.clock.Now()
	logger.Info("job started")

	err := run(ctx, runID)
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	elapsed := a.clock.Now().Sub(start)
	metrics.ObserveJob(job, status, elapsed)

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if perr := metrics.Push(pushCtx, a.cfg.Metrics.PushgatewayURL, job); perr != nil {
		logger.Warn("metrics push failed", zap.Error(perr))
	}

	if err != nil {
		logger.Error("job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return fmt.Errorf("%s job %s: %w", job, runID, err)
	}
	logger.Info("job finished", zap.Duration("elapsed", elapsed))
	return nil
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

// ParseTables maps configured table keys to store tables.
func ParseTables(names []string) ([]postgres.Table, error) {
	out := make([]postgres.Table, 0, len(names))
	for _, n := range names {
		switch n {
		case postgres.Documents.String():
			out = append(out, postgres.Documents)
		case postgres.AIDocuments.String():
			out = append(out, postgres.AIDocuments)
		default:
			return nil, fmt.Errorf("unknown table %q", n)
		}
	}
	return out, nil
}
