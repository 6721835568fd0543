package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-policy-docs/internal/classifier"
	"github.com/JakeFAU/ai-policy-docs/internal/document"
)

const (
	defaultFetchLimit    = 999
	defaultClassifyBatch = 50
)

// ClassifyConfig bounds one classify run.
type ClassifyConfig struct {
	FetchLimit int
	BatchSize  int
}

// ClassifyResult summarizes one classify run.
type ClassifyResult struct {
	Selected   int
	Classified int
	Skipped    int
	AIRelated  int
	Inserted   int
}

// Notification announces documents newly copied into the AI table.
type Notification struct {
	RunID           string   `json:"run_id"`
	DocumentNumbers []string `json:"document_numbers"`
}

// Classify labels unclassified corpus rows and copies AI-related ones into
// the AI table.
type Classify struct {
	store      ClassificationStore
	classifier DocumentClassifier
	notifier   Publisher
	cfg        ClassifyConfig
	logger     *zap.Logger
}

// NewClassify wires a classify job. notifier may be nil.
func NewClassify(store ClassificationStore, c DocumentClassifier, notifier Publisher, cfg ClassifyConfig, logger *zap.Logger) *Classify {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = defaultFetchLimit
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultClassifyBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classify{
		store:      store,
		classifier: c,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run processes up to FetchLimit rows in batches. Malformed model output
// skips the document, leaving it unclassified. Any other classifier error
// persists what the current batch gathered so far and ends the run.
func (c *Classify) Run(ctx context.Context, runID string) (ClassifyResult, error) {
	var result ClassifyResult
	logger := c.logger.With(zap.String("run_id", runID))

	rows, err := c.store.Unclassified(ctx, c.cfg.FetchLimit)
	if err != nil {
		return result, fmt.Errorf("load unclassified: %w", err)
	}
	result.Selected = len(rows)
	logger.Info("classify started", zap.Int("rows", len(rows)))

	for start, batchNo := 0, 1; start < len(rows); start, batchNo = start+c.cfg.BatchSize, batchNo+1 {
		end := min(start+c.cfg.BatchSize, len(rows))
		blog := logger.With(zap.Int("batch", batchNo))

		verdicts, labeled, skipped, classifyErr := c.classifyBatch(ctx, blog, rows[start:end])
		result.Skipped += skipped

		if len(verdicts) > 0 {
			inserted, err := c.persist(ctx, blog, runID, verdicts, labeled)
			if err != nil {
				return result, fmt.Errorf("batch %d: %w", batchNo, err)
			}
			result.Classified += len(verdicts)
			result.Inserted += len(inserted)
			for _, d := range labeled {
				if d.IsAIRelated() {
					result.AIRelated++
				}
			}
		}
		if classifyErr != nil {
			return result, fmt.Errorf("batch %d: %w", batchNo, classifyErr)
		}
	}

	logger.Info("classify finished",
		zap.Int("selected", result.Selected),
		zap.Int("classified", result.Classified),
		zap.Int("skipped", result.Skipped),
		zap.Int("ai_related", result.AIRelated),
		zap.Int("inserted", result.Inserted),
	)
	return result, nil
}

func (c *Classify) classifyBatch(
	ctx context.Context,
	logger *zap.Logger,
	batch []document.Document,
) ([]document.Verdict, []document.Document, int, error) {
	verdicts := make([]document.Verdict, 0, len(batch))
	labeled := make([]document.Document, 0, len(batch))
	skipped := 0
	for _, doc := range batch {
		verdict, err := c.classifier.Classify(ctx, doc)
		if errors.Is(err, classifier.ErrMalformedResponse) {
			skipped++
			logger.Warn("skipping document with malformed response",
				zap.String("document_number", doc.DocumentNumber),
				zap.Error(err),
			)
			continue
		}
		if err != nil {
			logger.Error("classification failed",
				zap.String("document_number", doc.DocumentNumber),
				zap.Error(err),
			)
			return verdicts, labeled, skipped, err
		}
		verdict.Apply(&doc)
		verdicts = append(verdicts, verdict)
		labeled = append(labeled, doc)
	}
	return verdicts, labeled, skipped, nil
}

func (c *Classify) persist(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	verdicts []document.Verdict,
	labeled []document.Document,
) ([]string, error) {
	if err := c.store.SaveClassifications(ctx, verdicts); err != nil {
		return nil, fmt.Errorf("save classifications: %w", err)
	}
	inserted, err := c.store.InsertAIDocuments(ctx, labeled)
	if err != nil {
		return inserted, fmt.Errorf("insert ai documents: %w", err)
	}
	logger.Info("batch stored",
		zap.Int("classified", len(verdicts)),
		zap.Int("inserted", len(inserted)),
	)
	if c.notifier != nil && len(inserted) > 0 {
		id, err := c.notifier.Publish(ctx, Notification{RunID: runID, DocumentNumbers: inserted})
		if err != nil {
			logger.Warn("notify failed", zap.Error(err))
		} else {
			logger.Debug("notified", zap.String("message_id", id))
		}
	}
	return inserted, nil
}
