package jobs

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
	"github.com/JakeFAU/ai-policy-docs/internal/federalregister"
	"github.com/JakeFAU/ai-policy-docs/internal/metrics"
)

const archiveContentType = "application/json"

// SyncConfig selects which documents the sync job pulls.
type SyncConfig struct {
	Terms         []string
	LookbackDays  int
	PerPage       int
	MaxPages      int
	ArchivePrefix string
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Pages    int
	Fetched  int
	Inserted int
}

// Sync pulls recent documents from the Federal Register and inserts the ones
// not yet stored.
type Sync struct {
	source  Searcher
	store   CorpusStore
	archive BlobStore
	clock   Clock
	cfg     SyncConfig
	logger  *zap.Logger
}

// NewSync wires a sync job. archive may be nil to skip raw page archiving.
func NewSync(source Searcher, store CorpusStore, archive BlobStore, clock Clock, cfg SyncConfig, logger *zap.Logger) *Sync {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookbackDays < 0 {
		cfg.LookbackDays = 0
	}
	return &Sync{
		source:  source,
		store:   store,
		archive: archive,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Window returns the publication date range searched by a run started on today.
func (s *Sync) Window(today time.Time) (time.Time, time.Time) {
	to := today.UTC().Truncate(24 * time.Hour)
	return to.AddDate(0, 0, -s.cfg.LookbackDays), to
}

// Run executes one sync pass. A failed insert aborts the run; archive
// failures are logged and ignored.
func (s *Sync) Run(ctx context.Context, runID string) (SyncResult, error) {
	var result SyncResult
	from, to := s.Window(s.clock.Today())
	logger := s.logger.With(zap.String("run_id", runID))
	logger.Info("sync started",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Strings("terms", s.cfg.Terms),
	)

	var docs []document.Document
	params := federalregister.SearchParams{
		Terms:    s.cfg.Terms,
		From:     from,
		To:       to,
		PerPage:  s.cfg.PerPage,
		MaxPages: s.cfg.MaxPages,
	}
	err := s.source.Search(ctx, params, func(page federalregister.Page) error {
		result.Pages++
		s.archivePage(ctx, logger, runID, page)
		for _, raw := range page.Results {
			docs = append(docs, document.Normalize(raw))
		}
		logger.Debug("search page received",
			zap.Int("page", page.Number),
			zap.Int("results", len(page.Results)),
			zap.Int("total_pages", page.TotalPages),
		)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("search documents: %w", err)
	}
	result.Fetched = len(docs)
	metrics.ObserveFetched(len(docs))
	if len(docs) == 0 {
		logger.Info("no documents returned")
		return result, nil
	}

	existing, err := s.store.ExistingNumbers(ctx)
	if err != nil {
		return result, fmt.Errorf("load existing numbers: %w", err)
	}
	inserted, err := s.store.InsertNew(ctx, docs, existing)
	result.Inserted = inserted
	if err != nil {
		return result, fmt.Errorf("insert documents: %w", err)
	}
	logger.Info("sync finished",
		zap.Int("pages", result.Pages),
		zap.Int("fetched", result.Fetched),
		zap.Int("inserted", result.Inserted),
	)
	return result, nil
}

func (s *Sync) archivePage(ctx context.Context, logger *zap.Logger, runID string, page federalregister.Page) {
	if s.archive == nil || len(page.Body) == 0 {
		return
	}
	key := ArchivePath(s.cfg.ArchivePrefix, runID, page.Number)
	uri, err := s.archive.PutObject(ctx, key, archiveContentType, bytes.NewReader(page.Body))
	if err != nil {
		logger.Warn("archive page failed", zap.Int("page", page.Number), zap.Error(err))
		return
	}
	logger.Debug("archived page", zap.String("uri", uri))
}

// ArchivePath is the blob key of a raw search page.
func ArchivePath(prefix, runID string, page int) string {
	return path.Join(strings.Trim(prefix, "/"), runID, fmt.Sprintf("search-page-%04d.json", page))
}
