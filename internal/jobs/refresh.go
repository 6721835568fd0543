package jobs

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-policy-docs/internal/dispatcher"
	"github.com/JakeFAU/ai-policy-docs/internal/document"
	"github.com/JakeFAU/ai-policy-docs/internal/federalregister"
	"github.com/JakeFAU/ai-policy-docs/internal/metrics"
	"github.com/JakeFAU/ai-policy-docs/internal/policy/retry"
	"github.com/JakeFAU/ai-policy-docs/internal/queue/memory"
	"github.com/JakeFAU/ai-policy-docs/internal/storage/postgres"
)

// RefreshConfig controls the refresh worker pool.
type RefreshConfig struct {
	Tables     []postgres.Table
	Workers    int
	QueueDepth int
	Retry      retry.Policy
}

// TableRefresh summarizes the refresh of one table.
type TableRefresh struct {
	Table     string
	Listed    int
	Updated   int
	Unchanged int
	Failed    int
}

// RefreshResult summarizes one refresh run.
type RefreshResult struct {
	Tables []TableRefresh
}

// Updated returns the number of rows written across all tables.
func (r RefreshResult) Updated() int {
	total := 0
	for _, t := range r.Tables {
		total += t.Updated
	}
	return total
}

// Refresh re-fetches engagement counters for stored documents.
type Refresh struct {
	source MetricsSource
	store  MetricsStore
	cfg    RefreshConfig
	logger *zap.Logger
}

// NewRefresh wires a refresh job. Only transient source errors are retried
// unless cfg.Retry.Retryable says otherwise.
func NewRefresh(source MetricsSource, store MetricsStore, cfg RefreshConfig, logger *zap.Logger) *Refresh {
	if len(cfg.Tables) == 0 {
		cfg.Tables = []postgres.Table{postgres.Documents, postgres.AIDocuments}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers * 2
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = federalregister.IsTransient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresh{source: source, store: store, cfg: cfg, logger: logger}
}

// Run refreshes every configured table in turn. Per-document failures are
// counted and never end the run.
func (r *Refresh) Run(ctx context.Context, runID string) (RefreshResult, error) {
	var result RefreshResult
	logger := r.logger.With(zap.String("run_id", runID))
	for _, table := range r.cfg.Tables {
		summary, err := r.refreshTable(ctx, logger, table)
		result.Tables = append(result.Tables, summary)
		if err != nil {
			return result, err
		}
		logger.Info("table refreshed",
			zap.String("table", summary.Table),
			zap.Int("listed", summary.Listed),
			zap.Int("updated", summary.Updated),
			zap.Int("unchanged", summary.Unchanged),
			zap.Int("failed", summary.Failed),
		)
	}
	return result, nil
}

func (r *Refresh) refreshTable(ctx context.Context, logger *zap.Logger, table postgres.Table) (TableRefresh, error) {
	name := r.store.TableName(table)
	summary := TableRefresh{Table: name}
	logger = logger.With(zap.String("table", name))

	rows, err := r.store.ListMetrics(ctx, table)
	if err != nil {
		return summary, fmt.Errorf("list metrics %s: %w", name, err)
	}
	summary.Listed = len(rows)
	if len(rows) == 0 {
		return summary, nil
	}

	var updated, unchanged, failed atomic.Int64
	handle := func(ctx context.Context, stored document.Metrics) error {
		outcome, err := r.refreshOne(ctx, table, stored)
		metrics.ObserveRefresh(name, outcome)
		switch outcome {
		case outcomeUpdated:
			updated.Add(1)
		case outcomeUnchanged:
			unchanged.Add(1)
		default:
			failed.Add(1)
			logger.Warn("refresh failed",
				zap.String("document_number", stored.DocumentNumber),
				zap.Error(err),
			)
		}
		return err
	}

	queue := memory.NewQueue[document.Metrics](r.cfg.QueueDepth)
	pool := dispatcher.New(queue, r.cfg.Workers, handle, logger)
	go func() {
		defer queue.Close()
		for _, row := range rows {
			if err := pool.Enqueue(ctx, row); err != nil {
				logger.Warn("stopped enqueueing", zap.Error(err))
				return
			}
		}
	}()
	pool.Run(ctx)

	summary.Updated = int(updated.Load())
	summary.Unchanged = int(unchanged.Load())
	summary.Failed = int(failed.Load())
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("refresh %s: %w", name, err)
	}
	return summary, nil
}

const (
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
	outcomeFailed    = "failed"
)

func (r *Refresh) refreshOne(ctx context.Context, table postgres.Table, stored document.Metrics) (string, error) {
	var fetched document.Metrics
	err := r.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		m, err := r.source.Metrics(ctx, stored.DocumentNumber)
		if err != nil {
			return err
		}
		fetched = m
		return nil
	})
	if err != nil {
		return outcomeFailed, fmt.Errorf("fetch metrics: %w", err)
	}
	change := stored.Changes(fetched)
	if change.Empty() {
		return outcomeUnchanged, nil
	}
	ok, err := r.store.UpdateMetrics(ctx, table, change)
	if err != nil {
		return outcomeFailed, fmt.Errorf("update metrics: %w", err)
	}
	if !ok {
		return outcomeUnchanged, nil
	}
	return outcomeUpdated, nil
}
